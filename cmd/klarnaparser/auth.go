package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"klarnaparser/pkg/auth"
	"klarnaparser/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored portal and mailbox passwords",
	Long: `Manage the portal and mailbox passwords used by a run.

Passwords are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation

Values set in the environment or .env always take precedence.`,
}

var loginCmd = &cobra.Command{
	Use:       "login <portal|mailbox>",
	Short:     "Store a password securely",
	ValidArgs: auth.Names,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Example: `  # Store the merchant portal login
  klarnaparser auth login portal

  # Store the IMAP mailbox password
  klarnaparser auth login mailbox`,
	Run: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:       "logout <portal|mailbox>",
	Short:     "Remove a stored password",
	ValidArgs: auth.Names,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run:       runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which passwords are stored",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(statusCmd)
}

func runLogin(cmd *cobra.Command, args []string) {
	name := args[0]
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize secret store", err.Error())
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)

	label := "Portal login"
	if name == auth.SecretMailbox {
		label = "Mailbox address"
	}
	fmt.Printf("%s: ", label)
	account, err := reader.ReadString('\n')
	if err != nil {
		ui.PrintError("Failed to read "+strings.ToLower(label), err.Error())
		os.Exit(1)
	}
	account = strings.TrimSpace(account)

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("A %s password is already stored. Replace it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	fmt.Print("Password (hidden): ")
	password, err := readPassword(reader)
	if err != nil {
		ui.PrintError("Failed to read password", err.Error())
		os.Exit(1)
	}
	if password == "" {
		ui.PrintError("Password is required")
		os.Exit(1)
	}

	secret := &auth.Secret{Name: name, Account: account, Value: password}
	if err := manager.Store(secret); err != nil {
		ui.PrintError("Failed to store password", err.Error())
		os.Exit(1)
	}

	ui.PrintSuccess(fmt.Sprintf("Stored %s password for %s", name, account))
}

func runLogout(cmd *cobra.Command, args []string) {
	name := args[0]
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize secret store", err.Error())
		os.Exit(1)
	}

	if err := manager.Delete(name); err != nil {
		ui.PrintError("Failed to remove password", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Removed " + name + " password")
}

func runStatus(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize secret store", err.Error())
		os.Exit(1)
	}

	secrets, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list passwords", err.Error())
		os.Exit(1)
	}
	if len(secrets) == 0 {
		ui.PrintWarning("No passwords stored")
		fmt.Println()
		auth.ShowSetupGuide(os.Stdout)
		return
	}

	ui.PrintHighlight("Stored passwords")
	for _, secret := range secrets {
		s := auth.Sanitize(secret)
		ui.PrintInfo(fmt.Sprintf("  %-8s", s.Name),
			fmt.Sprintf("%s %s (updated %s)", s.Account, s.Value, s.LastModified.Format("2006-01-02 15:04")))
	}
}

// readPassword reads a password from stdin without echoing
func readPassword(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	// Fallback to regular input
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
