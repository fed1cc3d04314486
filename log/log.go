package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
	debug    bool
)

const diagFileName = "diagnostics_log.txt"

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: ZEDD_LOG_PATH environment variable
	if envPath := os.Getenv("ZEDD_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetDebug enables debug-level events (bridge drops, stale adapter events).
func SetDebug(on bool) {
	debug = on
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, diagFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	logReady = false
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
}

func ready() bool {
	logMu.Lock()
	defer logMu.Unlock()
	return logReady
}

func Info(msg string) {
	if ready() {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if ready() {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Debugf(format string, args ...any) {
	if ready() {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if ready() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if ready() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if ready() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if ready() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(provider, mode, keyword string) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("provider", provider).
		Str("mode", mode).
		Str("stop_keyword", keyword).
		Msg("session_start")
}

func SessionEnd(attempts int) {
	if !ready() {
		return
	}
	diagLog.Info().
		Int("attempts", attempts).
		Msg("session_end")
}

func StateChange(from, to, reason string) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("from", from).
		Str("to", to).
		Str("reason", reason).
		Msg("state")
}

func AttemptBegin(attempt uint64, provider string) {
	if !ready() {
		return
	}
	diagLog.Info().
		Uint64("attempt", attempt).
		Str("provider", provider).
		Msg("attempt_begin")
}

func RecognitionError(attempt uint64, code int, err error) {
	if !ready() {
		return
	}
	ev := diagLog.Warn().
		Uint64("attempt", attempt).
		Int("code", code)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("recognition_error")
}

func BridgeDrop(channel, method string) {
	if !ready() {
		return
	}
	diagLog.Debug().
		Str("channel", channel).
		Str("method", method).
		Msg("bridge_unreachable")
}

func BridgeLink(id, event string) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("link", id).
		Msg("bridge_" + event)
}
