package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vitrine-auto/inventory-web/internal/app"
	"github.com/vitrine-auto/inventory-web/internal/config"
	"github.com/vitrine-auto/inventory-web/internal/gate"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "inventory-web",
	Short: "Session gatekeeping front for the vehicle inventory app",
	Long: `HTTP front of the multi-tenant vehicle inventory application.

Every page request passes through the session gatekeeper, which validates
and refreshes the caller's session with the external auth service before
deciding to forward the request to the UI server or redirect it. The
completion endpoint finishes sign-in, sign-up, magic link and password
recovery flows started by the auth service.

When the auth service URL or public key is missing the server still runs,
with session gating disabled.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(envFile)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Start the HTTP server.

The server:
  - Gates every page request by session state
  - Completes auth flows on the callback endpoint
  - Starts provider sign-in on the SSO endpoint
  - Proxies allowed requests to the UI server
  - Exposes /health and /metrics`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration",
	Long: `Load and validate the configuration without starting the server.

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <path>...",
	Short: "Show how the gatekeeper classifies paths",
	Long: `Print the class (public, protected, auth_only) the gatekeeper assigns
to each path, and whether the path bypasses the gatekeeper.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

// overrideExitCode is set by check-config so main() can call os.Exit()
// after cobra finishes. -1 means "use default".
var overrideExitCode = -1

func init() {
	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to configuration file (empty: defaults and environment only)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"Environment file loaded before configuration, ignored when missing")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(classifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// loadEnvFile loads variables from path without overriding the environment.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// loadConfig loads the configuration and applies the log flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	// Override log settings from flags if provided
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

// runServe starts the server and blocks until SIGINT or SIGTERM
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize structured logging based on config
	config.SetupLogging(&cfg.Log)

	slog.Info("starting inventory web server",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", configFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, version)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return fmt.Errorf("failed to create server: %w", err)
	}

	return a.Run(ctx)
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "inventory-web version %s\n", version)
	fmt.Fprintf(w, "  Commit:     %s\n", commit)
	fmt.Fprintf(w, "  Build date: %s\n", buildDate)
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	source := configFile
	if source == "" {
		source = "(defaults and environment)"
	}
	fmt.Fprintf(w, "Checking configuration: %s\n\n", source)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Configuration validation failed:\n")
		fmt.Fprintf(cmd.ErrOrStderr(), "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	printSummary(w, cfg.Redact())
	return nil
}

func printSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Configuration is valid")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration summary:")
	fmt.Fprintf(w, "  Auth Provider:   %s\n", cfg.Auth.Provider)
	fmt.Fprintf(w, "  Auth URL:        %s\n", cfg.Auth.URL)
	fmt.Fprintf(w, "  Public Key:      %s\n", cfg.Auth.PublicKey)
	fmt.Fprintf(w, "  Protected:       %v\n", cfg.Routes.Protected)
	fmt.Fprintf(w, "  Auth Only:       %v\n", cfg.Routes.AuthOnly)
	fmt.Fprintf(w, "  Skip:            %v\n", cfg.Routes.Skip)
	fmt.Fprintf(w, "  Login Page:      %s\n", cfg.Routes.Login)
	fmt.Fprintf(w, "  Home Page:       %s\n", cfg.Routes.Home)
	fmt.Fprintf(w, "  Callback:        %s\n", cfg.Routes.Callback)
	fmt.Fprintf(w, "  Upstream:        %s\n", cfg.App.Upstream)
	fmt.Fprintf(w, "  HTTP Listen:     %s\n", cfg.Listen.HTTP)
	fmt.Fprintf(w, "  Log Level:       %s\n", cfg.Log.Level)
	fmt.Fprintf(w, "  Log Format:      %s\n", cfg.Log.Format)
	fmt.Fprintf(w, "  TLS Enabled:     %v\n", cfg.TLS.Enabled)

	if cfg.AuthEnabled() {
		fmt.Fprintln(w, "\n  Session gating:  enabled")
	} else {
		fmt.Fprintln(w, "\n  Session gating:  DISABLED (auth url or public key not set)")
	}
}

// runClassify prints the gatekeeper's view of each path argument
func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Classification never calls the auth service.
	g := gate.New(nil, app.GateOptions(cfg, nil))

	w := cmd.OutOrStdout()
	for _, p := range args {
		if g.Skipped(p) {
			fmt.Fprintf(w, "%s\tskipped\n", p)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", p, g.Classifier().Classify(p))
	}
	return nil
}
