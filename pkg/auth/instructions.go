package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowSetupGuide explains where the parser looks for its passwords
func ShowSetupGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "KLARNA PARSER SECRETS")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Two passwords are needed for a run:")
	fmt.Fprintln(w, "  portal   the merchant portal login")
	fmt.Fprintln(w, "  mailbox  the IMAP mailbox receiving the one-time code")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "They are looked up in this order:")
	fmt.Fprintln(w, "  1. KLARNA_PASSWORD / EMAIL_PASSWORD in the environment or .env")
	fmt.Fprintln(w, "  2. the system keychain")
	fmt.Fprintln(w, "  3. an encrypted file in the user config directory")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Store them once with:")
	fmt.Fprintln(w, "  klarnaparser auth login portal")
	fmt.Fprintln(w, "  klarnaparser auth login mailbox")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Set %s to choose the encrypted file passphrase.\n", PassphraseEnv)
	fmt.Fprintln(w, strings.Repeat("=", 72))
}
