package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"klarnaparser/pkg/auth"
	"klarnaparser/pkg/config"
	"klarnaparser/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
	verbose    bool
)

// rootCmd runs the full pipeline when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "klarnaparser",
	Short: "Download the Klarna settlement report and append refunds to Google Sheets",
	Long: `Klarna Parser logs into the Klarna merchant portal, downloads the settlement
report for the last seven days and appends its RETURN rows to a Google Sheets
worksheet.

Each run:
  - Cleans the download directory
  - Logs in with the portal password and the emailed one-time code
  - Accepts the cookie banner and downloads the CSV report
  - Keeps the refund rows and appends them after the last populated row
  - Pushes run metrics to a Pushgateway when one is configured

Any failure aborts the run and exits with status 1.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetNoColor(noColor)
		if quiet {
			ui.SetQuietMode(true)
		}

		// Don't show logo for certain commands
		if cmd.Name() != "version" && cmd.Name() != "help" {
			ui.PrintLogo()
		}
	},
	Args: cobra.NoArgs,
	Run:  runParse,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./klarnaparser.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only print errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and stage timings")

	rootCmd.SetVersionTemplate(fmt.Sprintf(`klarnaparser version %s
  Git commit: %s
  Built:      %s
  Go version: %s
  OS/Arch:    %s/%s
`, version, gitCommit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH))

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// commandLineFlags collects the flags that override configuration
func commandLineFlags() map[string]interface{} {
	flags := make(map[string]interface{})
	switch {
	case logLevel != "":
		flags["log-level"] = logLevel
	case verbose:
		flags["log-level"] = "debug"
	}
	if debugMode {
		flags["debug"] = true
	}
	if downloadDir != "" {
		flags["download-dir"] = downloadDir
	}
	if worksheet != "" {
		flags["worksheet"] = worksheet
	}
	return flags
}

// loadConfig loads configuration and fills missing passwords from the
// secret store before validating.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.LoadUnvalidated(configFile, commandLineFlags())
	if err != nil {
		return nil, err
	}

	if manager, err := auth.NewManager(); err == nil {
		manager.Resolve(cfg)
	}

	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return cfg, nil
}
