package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"zedd/beep"
	"zedd/config"
	"zedd/doctor"
	"zedd/log"
)

var version = "dev"

var (
	settings    = config.New()
	cfg         config.Config
	setupDevice bool
	guiMode     bool
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flags.String("config", "", "config file (default: ./zedd.yaml, then the user config dir)")
	flags.String("env-file", ".env", "dotenv file to load API keys from")
	flags.BoolVar(&setupDevice, "setup", false, "select the microphone interactively")
	flags.BoolVar(&guiMode, "gui", false, "show the overlay as a floating window (builds with -tags gui)")

	flags.String("stop-keyword", "stop", "phrase that ends continuous listening")
	flags.Duration("backoff", time.Second, "delay before retrying a failed recognition attempt")
	flags.String("language", "en-US", "recognition language")
	flags.String("language-model", "free_form", "language model: free_form or web_search")
	flags.Bool("partial-results", true, "stream partial results to the overlay")
	flags.String("bridge-addr", "127.0.0.1:7711", "address the listener serves overlays on")
	flags.String("model", "nova-3", "Deepgram model")
	flags.String("device", "", "use the named microphone")
	flags.Bool("auto-start", false, "start listening without waiting for a press")
	flags.Bool("beep", true, "play audio cues on listening changes")
	flags.Bool("hotkey", true, "register the global push-to-talk hotkey")
	flags.String("deepgram-api-key", "", "Deepgram API key")
	flags.Bool("debug", false, "log debug events")

	bind(flags, config.KeyStopKeyword, "stop-keyword")
	bind(flags, config.KeyBackoff, "backoff")
	bind(flags, config.KeyLanguage, "language")
	bind(flags, config.KeyLanguageModel, "language-model")
	bind(flags, config.KeyPartialResults, "partial-results")
	bind(flags, config.KeyBridgeAddr, "bridge-addr")
	bind(flags, config.KeyModel, "model")
	bind(flags, config.KeyDevice, "device")
	bind(flags, config.KeyAutoStart, "auto-start")
	bind(flags, config.KeyBeep, "beep")
	bind(flags, config.KeyHotkey, "hotkey")
	bind(flags, config.KeyDeepgramAPIKey, "deepgram-api-key")
	bind(flags, config.KeyDebug, "debug")

	overlayCmd.Flags().String("url", "", "listener websocket URL (default: ws://<bridge-addr>/)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(overlayCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func bind(flags *pflag.FlagSet, key, name string) {
	settings.BindPFlag(key, flags.Lookup(name))
}

var rootCmd = &cobra.Command{
	Use:   "zedd",
	Short: "zedd listens for voice commands until you say the stop keyword",
	Long: `zedd keeps a speech recognizer listening continuously and shows what it
hears in a terminal overlay. Hold space, click the control box, or press
Ctrl+Shift+Space to start listening; say the stop keyword to end.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { log.Close() },
	RunE:              runApp,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the listener and the overlay in one process (the default)",
	RunE:  runApp,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the listening host and serve overlays over websocket",
	RunE:  runListen,
}

var overlayCmd = &cobra.Command{
	Use:   "overlay",
	Short: "Show the overlay for a host started with zedd listen",
	RunE:  runOverlay,
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Headless session driven by stdin commands, with a scripted recognizer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runScript(cmd.InOrStdin(), cmd.OutOrStdout(), cfg)
	},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run system diagnostics",
	Run: func(*cobra.Command, []string) {
		code := doctor.Run(cfg)
		log.Close()
		os.Exit(code)
	},
}

var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the version",
	PersistentPreRun:  func(*cobra.Command, []string) {},
	PersistentPostRun: func(*cobra.Command, []string) {},
	Run: func(*cobra.Command, []string) {
		fmt.Printf("zedd %s\n", version)
	},
}

func setup(cmd *cobra.Command, _ []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnv(envFile); err != nil {
		return err
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		settings.SetConfigFile(path)
	}
	var err error
	if cfg, err = config.Load(settings); err != nil {
		return err
	}

	logPath, _ := cmd.Flags().GetString("logpath")
	dir, err := log.ResolveDir(logPath)
	if err != nil {
		return fmt.Errorf("resolving log directory: %w", err)
	}
	log.SetDir(dir)
	log.SetDebug(cfg.Debug)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	initCrashLog(dir)

	if !cfg.Beep {
		beep.Disable()
	}
	return nil
}

// initCrashLog sends fatal runtime errors to crash_log.txt next to the diagnostics log.
func initCrashLog(dir string) {
	f, err := os.OpenFile(filepath.Join(dir, "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(f, debug.CrashOptions{})
}

// guiRequested reports whether --gui is among args, before cobra parses them.
func guiRequested(args []string) bool {
	for _, arg := range args {
		if arg == "--" {
			return false
		}
		if arg == "--gui" || arg == "--gui=true" {
			return true
		}
	}
	return false
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
