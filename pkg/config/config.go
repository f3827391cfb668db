package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DateFormat is the layout of the start_date/end_date query parameters (YYYY-MM-DD)
const DateFormat = "2006-01-02"

// Config holds all configuration options for the Klarna parser
type Config struct {
	// Merchant portal access and page selectors
	Portal PortalConfig `yaml:"portal" json:"portal"`

	// Mailbox receiving the one-time code
	Mailbox MailboxConfig `yaml:"mailbox" json:"mailbox"`

	// Browser session settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Download directory settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// CSV report parsing
	Report ReportConfig `yaml:"report" json:"report"`

	// Google Sheets target
	Sheets SheetsConfig `yaml:"sheets" json:"sheets"`

	// Retry policy for UI interactions and the mailbox query
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Pushgateway metrics
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// PortalConfig holds the merchant portal URL, credentials and element selectors
type PortalConfig struct {
	URL               string        `yaml:"url" json:"url"`
	Login             string        `yaml:"login" json:"login"`
	Password          string        `yaml:"password" json:"password"`
	UsernameSelector  string        `yaml:"username_selector" json:"username_selector"`
	PasswordSelector  string        `yaml:"password_selector" json:"password_selector"`
	SubmitSelector    string        `yaml:"submit_selector" json:"submit_selector"`
	SendCodeSelector  string        `yaml:"send_code_selector" json:"send_code_selector"`
	CodeInputSelector string        `yaml:"code_input_selector" json:"code_input_selector"`
	ConsentSelector   string        `yaml:"consent_selector" json:"consent_selector"`
	DownloadSelector  string        `yaml:"download_selector" json:"download_selector"`
	OTPFrame          FrameConfig   `yaml:"otp_frame" json:"otp_frame"`
	WaitTimeout       time.Duration `yaml:"wait_timeout" json:"wait_timeout"`
	ConsentRequired   bool          `yaml:"consent_required" json:"consent_required"`
}

// FrameConfig locates the iframe hosting the OTP widget.
// Attributes are tried first; Index is the document-order fallback.
type FrameConfig struct {
	Name  string `yaml:"name" json:"name"`
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	Index int    `yaml:"index" json:"index"`
}

// MailboxConfig holds IMAP connection details for the one-time code mailbox
type MailboxConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	Address      string        `yaml:"address" json:"address"`
	Password     string        `yaml:"password" json:"password"`
	Folder       string        `yaml:"folder" json:"folder"`
	Sender       string        `yaml:"sender" json:"sender"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
	FreshOnly    bool          `yaml:"fresh_only" json:"fresh_only"`
}

// BrowserConfig holds Chrome launch options
type BrowserConfig struct {
	Debug    bool   `yaml:"debug" json:"debug"`
	ExecPath string `yaml:"exec_path" json:"exec_path"`
	Width    int    `yaml:"width" json:"width"`
	Height   int    `yaml:"height" json:"height"`
}

// DownloadConfig holds the browser download target
type DownloadConfig struct {
	Directory       string        `yaml:"directory" json:"directory"`
	ArtifactTimeout time.Duration `yaml:"artifact_timeout" json:"artifact_timeout"`
}

// ReportConfig holds CSV parsing options
type ReportConfig struct {
	Marker    string `yaml:"marker" json:"marker"`
	Delimiter string `yaml:"delimiter" json:"delimiter"`
}

// SheetsConfig holds the Google Sheets target. With SkipAppended a window
// already appended to the worksheet is not appended again.
type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id" json:"spreadsheet_id"`
	Worksheet       string `yaml:"worksheet" json:"worksheet"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	SkipAppended    bool   `yaml:"skip_appended" json:"skip_appended"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// MetricsConfig holds Pushgateway settings. An empty URL disables pushing.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" json:"pushgateway_url"`
	Job            string `yaml:"job" json:"job"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Portal: PortalConfig{
			UsernameSelector:  `input[name="username"]`,
			PasswordSelector:  `input[name="password"]`,
			SubmitSelector:    "#loginBtn__text",
			SendCodeSelector:  "#otp-intro-send-button__text",
			CodeInputSelector: "input",
			ConsentSelector:   "#onetrust-accept-btn-handler",
			DownloadSelector:  "#BatchReportButtonGroup__download-csv__button__text",
			OTPFrame:          FrameConfig{Index: 2},
			WaitTimeout:       15 * time.Second,
		},
		Mailbox: MailboxConfig{
			Port:         993,
			Folder:       "INBOX",
			Sender:       "noreply-uk@klarna.co.uk",
			PollInterval: 5 * time.Second,
			PollTimeout:  90 * time.Second,
		},
		Browser: BrowserConfig{
			Width:  1920,
			Height: 1080,
		},
		Download: DownloadConfig{
			Directory:       "klarna_csv",
			ArtifactTimeout: 30 * time.Second,
		},
		Report: ReportConfig{
			Marker:    "RETURN",
			Delimiter: ";",
		},
		Sheets: SheetsConfig{
			Worksheet:       "Klarna Refunded",
			CredentialsFile: "credentials.json",
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			Multiplier:     2.0,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join("logs", "klarna_parser.log"),
		},
		Metrics: MetricsConfig{
			Job: "klarnaparser",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	// Portal
	if v := os.Getenv("KLARNA_URL"); v != "" {
		c.Portal.URL = v
	}
	if v := os.Getenv("KLARNA_LOGIN"); v != "" {
		c.Portal.Login = v
	}
	if v := os.Getenv("KLARNA_PASSWORD"); v != "" {
		c.Portal.Password = v
	}
	if v := os.Getenv("KLARNA_WAIT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("KLARNA_WAIT_TIMEOUT: %w", err))
		} else {
			c.Portal.WaitTimeout = d
		}
	}

	// Mailbox
	if v := os.Getenv("IMAP_SERVER"); v != "" {
		c.Mailbox.Host = v
	}
	if v := os.Getenv("IMAP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMAP_PORT: %w", err))
		} else {
			c.Mailbox.Port = port
		}
	}
	if v := os.Getenv("EMAIL_ADDRESS"); v != "" {
		c.Mailbox.Address = v
	}
	if v := os.Getenv("EMAIL_PASSWORD"); v != "" {
		c.Mailbox.Password = v
	}
	if v := os.Getenv("KLARNA_OTP_SENDER"); v != "" {
		c.Mailbox.Sender = v
	}

	// Browser
	if v := os.Getenv("DEBUG_MODE"); v != "" {
		c.Browser.Debug = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("CHROME_PATH"); v != "" {
		c.Browser.ExecPath = v
	}

	// Download directory
	if v := os.Getenv("DOWNLOAD_DIR"); v != "" {
		c.Download.Directory = v
	}

	// Google Sheets
	if v := os.Getenv("GOOGLE_SHEET_NAME"); v != "" {
		c.Sheets.SpreadsheetID = v
	}
	if v := os.Getenv("GOOGLE_SHEET_WORKSHEET_NAME"); v != "" {
		c.Sheets.Worksheet = v
	}
	if v := os.Getenv("GOOGLE_TOKEN_NAME"); v != "" {
		c.Sheets.CredentialsFile = v
	}

	// Logging
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		c.Logging.File = v
	}

	// Metrics
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		c.Metrics.PushgatewayURL = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		"klarnaparser.yaml",
		"klarnaparser.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "klarnaparser", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "klarnaparser", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Portal
	if c.Portal.URL == "" {
		errs = append(errs, errors.New("portal URL is required (KLARNA_URL)"))
	}
	if c.Portal.Login == "" {
		errs = append(errs, errors.New("portal login is required (KLARNA_LOGIN)"))
	}
	if c.Portal.Password == "" {
		errs = append(errs, errors.New("portal password is required (KLARNA_PASSWORD or 'auth login')"))
	}
	if c.Portal.WaitTimeout <= 0 {
		errs = append(errs, errors.New("wait timeout must be positive"))
	}
	if c.Portal.OTPFrame.Index < 0 {
		errs = append(errs, errors.New("OTP frame index cannot be negative"))
	}

	// Mailbox
	if c.Mailbox.Host == "" {
		errs = append(errs, errors.New("IMAP server is required (IMAP_SERVER)"))
	}
	if c.Mailbox.Port <= 0 || c.Mailbox.Port > 65535 {
		errs = append(errs, errors.New("IMAP port must be between 1 and 65535"))
	}
	if c.Mailbox.Address == "" {
		errs = append(errs, errors.New("email address is required (EMAIL_ADDRESS)"))
	}
	if c.Mailbox.Password == "" {
		errs = append(errs, errors.New("email password is required (EMAIL_PASSWORD or 'auth login')"))
	}
	if c.Mailbox.Sender == "" {
		errs = append(errs, errors.New("OTP sender address is required"))
	}
	if c.Mailbox.PollTimeout < 0 || c.Mailbox.PollInterval < 0 {
		errs = append(errs, errors.New("mailbox poll durations cannot be negative"))
	}

	// Download
	if c.Download.Directory == "" {
		errs = append(errs, errors.New("download directory is required"))
	}
	if c.Download.ArtifactTimeout <= 0 {
		errs = append(errs, errors.New("artifact timeout must be positive"))
	}

	// Report
	if c.Report.Marker == "" {
		errs = append(errs, errors.New("report marker is required"))
	}
	if len([]rune(c.Report.Delimiter)) != 1 {
		errs = append(errs, errors.New("report delimiter must be a single character"))
	}

	// Sheets
	if c.Sheets.SpreadsheetID == "" {
		errs = append(errs, errors.New("spreadsheet ID is required (GOOGLE_SHEET_NAME)"))
	}
	if c.Sheets.Worksheet == "" {
		errs = append(errs, errors.New("worksheet name is required"))
	}

	// Retry
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		errs = append(errs, errors.New("retry max attempts must be between 1 and 10"))
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if debug, ok := flags["debug"].(bool); ok && debug {
		c.Browser.Debug = true
	}
	if dir, ok := flags["download-dir"].(string); ok && dir != "" {
		c.Download.Directory = dir
	}
	if worksheet, ok := flags["worksheet"].(string); ok && worksheet != "" {
		c.Sheets.Worksheet = worksheet
	}
}

// Masked returns a copy with secrets masked, for display
func (c *Config) Masked() Config {
	out := *c
	out.Portal.Password = MaskSecret(c.Portal.Password)
	out.Mailbox.Password = MaskSecret(c.Mailbox.Password)
	return out
}

// MaskSecret masks all but the first and last two characters of a secret
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "***"
	}
	return s[:2] + "..." + s[len(s)-2:]
}

// LoadUnvalidated loads configuration from all sources without validating it.
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func LoadUnvalidated(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".klarnaparser.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	return config, nil
}

// Load loads configuration from all sources and validates the result
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	config, err := LoadUnvalidated(configPath, flags)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
