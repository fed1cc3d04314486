package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "ZEDD"
	FileName  = "zedd"
)

// Keys, also the yaml field names.
const (
	KeyStopKeyword      = "stop_keyword"
	KeyBackoff          = "backoff"
	KeyLanguage         = "language"
	KeyLanguageModel    = "language_model"
	KeyPartialResults   = "partial_results"
	KeyBridgeAddr       = "bridge_addr"
	KeyModel            = "model"
	KeyAutoStart        = "auto_start"
	KeyBeep             = "beep"
	KeyHotkey           = "hotkey"
	KeyDevice           = "device"
	KeyDeepgramAPIKey   = "deepgram_api_key"
	KeyDeepgramEndpoint = "deepgram_endpoint"
	KeyDebug            = "debug"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	StopKeyword      string
	Backoff          time.Duration
	Language         string
	LanguageModel    string
	PartialResults   bool
	BridgeAddr       string
	Model            string
	AutoStart        bool
	Beep             bool
	Hotkey           bool
	Device           string
	DeepgramAPIKey   string
	DeepgramEndpoint string
	Debug            bool
}

// New returns a viper instance with zedd's defaults, ZEDD_* environment
// overrides, and the zedd.yaml search path.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyStopKeyword, "stop")
	v.SetDefault(KeyBackoff, time.Second)
	v.SetDefault(KeyLanguage, "en-US")
	v.SetDefault(KeyLanguageModel, "free_form")
	v.SetDefault(KeyPartialResults, true)
	v.SetDefault(KeyBridgeAddr, "127.0.0.1:7711")
	v.SetDefault(KeyModel, "nova-3")
	v.SetDefault(KeyAutoStart, false)
	v.SetDefault(KeyBeep, true)
	v.SetDefault(KeyHotkey, true)
	v.SetDefault(KeyDevice, "")
	v.SetDefault(KeyDeepgramEndpoint, "")
	v.SetDefault(KeyDebug, false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.BindEnv(KeyDeepgramAPIKey, EnvPrefix+"_DEEPGRAM_API_KEY", "DEEPGRAM_API_KEY")

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, FileName))
	}
	return v
}

// LoadEnv loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the config file if one is found and returns the merged settings.
func Load(v *viper.Viper) (Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := Config{
		StopKeyword:      v.GetString(KeyStopKeyword),
		Backoff:          v.GetDuration(KeyBackoff),
		Language:         v.GetString(KeyLanguage),
		LanguageModel:    v.GetString(KeyLanguageModel),
		PartialResults:   v.GetBool(KeyPartialResults),
		BridgeAddr:       v.GetString(KeyBridgeAddr),
		Model:            v.GetString(KeyModel),
		AutoStart:        v.GetBool(KeyAutoStart),
		Beep:             v.GetBool(KeyBeep),
		Hotkey:           v.GetBool(KeyHotkey),
		Device:           v.GetString(KeyDevice),
		DeepgramAPIKey:   v.GetString(KeyDeepgramAPIKey),
		DeepgramEndpoint: v.GetString(KeyDeepgramEndpoint),
		Debug:            v.GetBool(KeyDebug),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.StopKeyword) == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalid, KeyStopKeyword)
	}
	if c.Backoff <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, KeyBackoff, c.Backoff)
	}
	switch c.LanguageModel {
	case "free_form", "web_search":
	default:
		return fmt.Errorf("%w: %s must be free_form or web_search, got %q", ErrInvalid, KeyLanguageModel, c.LanguageModel)
	}
	if c.BridgeAddr == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalid, KeyBridgeAddr)
	}
	return nil
}
