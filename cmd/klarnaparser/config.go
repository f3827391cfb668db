package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"klarnaparser/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage Klarna Parser configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables and .env
  - Configuration file
  - Default values (lowest priority)`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as 'klarnaparser.yaml'
unless a different path is specified with the --config flag.`,
	Run: runConfigInit,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the current configuration merged from all sources.

Passwords are masked.`,
	Run: runConfigShow,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the merged configuration and check that the download directory,
the Google credentials file and the log directory are usable.`,
	Run: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# Klarna Parser configuration
#
# Environment variables override this file. Passwords are best kept out of
# it: use KLARNA_PASSWORD / EMAIL_PASSWORD or 'klarnaparser auth login'.

portal:
  url: "https://portal.klarna.com/settlements"
  login: "merchant@example.com"
  # Element selectors on the login, OTP and report pages
  username_selector: 'input[name="username"]'
  password_selector: 'input[name="password"]'
  submit_selector: "#loginBtn__text"
  send_code_selector: "#otp-intro-send-button__text"
  code_input_selector: "input"
  consent_selector: "#onetrust-accept-btn-handler"
  download_selector: "#BatchReportButtonGroup__download-csv__button__text"
  # The OTP widget iframe. name, id or title win over the index.
  otp_frame:
    name: ""
    id: ""
    title: ""
    index: 2
  wait_timeout: 15s
  # Fail the run when the cookie banner does not show up
  consent_required: false

mailbox:
  host: "imap.example.com"
  port: 993
  address: "reports@example.com"
  folder: "INBOX"
  sender: "noreply-uk@klarna.co.uk"
  poll_interval: 5s
  poll_timeout: 90s
  # Ignore codes received before the code was requested
  fresh_only: false

browser:
  # Show the browser window
  debug: false
  exec_path: ""
  width: 1920
  height: 1080

download:
  # Must exist; its contents are removed at the start of every run
  directory: "klarna_csv"
  artifact_timeout: 30s

report:
  marker: "RETURN"
  delimiter: ";"

sheets:
  spreadsheet_id: "YOUR_SPREADSHEET_ID"
  worksheet: "Klarna Refunded"
  credentials_file: "credentials.json"
  # Remember the last appended date window and do not append it twice
  skip_appended: false

retry:
  max_attempts: 3
  initial_backoff: 1s
  max_backoff: 10s
  multiplier: 2.0

logging:
  # debug, info, warn, error
  level: "info"
  file: "logs/klarna_parser.log"

metrics:
  # Leave empty to disable
  pushgateway_url: ""
  job: "klarnaparser"
`

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		configPath = "klarnaparser.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		fmt.Println("\nTo overwrite, first remove the existing file:")
		fmt.Printf("  rm %s\n", configPath)
		os.Exit(1)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0600); err != nil {
		ui.PrintError("Failed to create configuration file", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the portal, mailbox and sheets sections")
	fmt.Println("2. Store passwords with 'klarnaparser auth login portal' and 'klarnaparser auth login mailbox'")
	fmt.Println("3. Run 'klarnaparser config validate'")
	fmt.Println("4. Run 'klarnaparser'")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(false)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	displayCfg := cfg.Masked()
	data, err := yaml.Marshal(&displayCfg)
	if err != nil {
		ui.PrintError("Failed to format configuration", err.Error())
		os.Exit(1)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables and .env")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (default locations)")
	}
	fmt.Println("4. Secret store, for passwords")
	fmt.Println("5. Default values")
}

func runConfigValidate(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(false)
	if err != nil {
		ui.PrintError("Failed to load configuration", err.Error())
		os.Exit(1)
	}

	var problems []string
	if err := cfg.Validate(); err != nil {
		problems = append(problems, splitJoined(err)...)
	}

	var warnings []string
	if info, err := os.Stat(cfg.Download.Directory); err != nil || !info.IsDir() {
		problems = append(problems, fmt.Sprintf("download directory %q does not exist", cfg.Download.Directory))
	}
	if cfg.Sheets.CredentialsFile != "" {
		if _, err := os.Stat(cfg.Sheets.CredentialsFile); err != nil {
			warnings = append(warnings, fmt.Sprintf("Google credentials file %q not found; appending to the spreadsheet will fail", cfg.Sheets.CredentialsFile))
		}
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	if cfg.Metrics.PushgatewayURL == "" {
		warnings = append(warnings, "metrics push disabled (PUSHGATEWAY_URL not set)")
	}

	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		os.Exit(1)
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Portal: %s\n", cfg.Portal.URL)
	fmt.Printf("  Mailbox: %s (%s:%d)\n", cfg.Mailbox.Address, cfg.Mailbox.Host, cfg.Mailbox.Port)
	fmt.Printf("  Download directory: %s\n", cfg.Download.Directory)
	fmt.Printf("  Worksheet: %s\n", cfg.Sheets.Worksheet)
	fmt.Printf("  Max retries: %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
}

// splitJoined flattens an errors.Join result into one line per error
func splitJoined(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var lines []string
		for _, e := range joined.Unwrap() {
			lines = append(lines, e.Error())
		}
		return lines
	}
	return strings.Split(err.Error(), "\n")
}
