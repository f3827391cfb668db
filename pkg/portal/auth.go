package portal

import (
	"context"
	"time"

	"klarnaparser/pkg/browser"
	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/retry"
)

// Step names reported in errors
const (
	StepCredentials = "credentials"
	StepOTPRequest  = "otp-request"
	StepOTPCode     = "otp-code"
	StepOTPInput    = "otp-input"
	StepConsent     = "consent"
	StepDownload    = "download"
)

// State is a position in the login flow
type State int

const (
	StateStart State = iota
	StateCredentialsEntered
	StateOTPRequested
	StateCodeEntered
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateCredentialsEntered:
		return "credentials_entered"
	case StateOTPRequested:
		return "otp_requested"
	case StateCodeEntered:
		return "code_entered"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// CodeSource supplies the emailed one-time code. Messages older than
// notBefore are ignored unless it is the zero time.
type CodeSource interface {
	FetchCode(ctx context.Context, notBefore time.Time) (string, error)
}

// Authenticator logs into the merchant portal with username, password and
// an emailed one-time code.
type Authenticator struct {
	portal    config.PortalConfig
	retryCfg  config.RetryConfig
	freshOnly bool
	codes     CodeSource
	logger    logger.Logger
	now       func() time.Time
	state     State
}

// NewAuthenticator creates an authenticator using codes for the second factor
func NewAuthenticator(cfg *config.Config, codes CodeSource, log logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Authenticator{
		portal:    cfg.Portal,
		retryCfg:  cfg.Retry,
		freshOnly: cfg.Mailbox.FreshOnly,
		codes:     codes,
		logger:    log.WithField("component", "auth"),
		now:       time.Now,
	}
}

// State returns the last state the flow reached
func (a *Authenticator) State() State {
	return a.state
}

// Login runs the flow from the login form to the authenticated top-level
// document. Each failure names the step that failed.
func (a *Authenticator) Login(ctx context.Context, page browser.Page) error {
	a.state = StateStart

	a.logger.Info("Filling in login credentials")
	if err := a.enterCredentials(page); err != nil {
		return err
	}
	a.transition(StateCredentialsEntered)

	requestedAt, err := a.requestCode(ctx, page)
	if err != nil {
		return err
	}
	a.transition(StateOTPRequested)

	if err := a.enterCode(ctx, page, requestedAt); err != nil {
		return err
	}
	a.transition(StateCodeEntered)

	if err := page.ExitFrame(); err != nil {
		return stepError(StepOTPInput, err)
	}
	a.transition(StateDone)
	return nil
}

// enterCredentials is never retried; repeated submissions risk locking
// the account.
func (a *Authenticator) enterCredentials(page browser.Page) error {
	if err := page.SendKeys(a.portal.UsernameSelector, a.portal.Login); err != nil {
		return stepError(StepCredentials, err)
	}
	if err := page.SendKeys(a.portal.PasswordSelector, a.portal.Password); err != nil {
		return stepError(StepCredentials, err)
	}
	if err := page.Click(a.portal.SubmitSelector); err != nil {
		return stepError(StepCredentials, err)
	}
	return nil
}

func (a *Authenticator) requestCode(ctx context.Context, page browser.Page) (time.Time, error) {
	loc := browser.LocatorFromConfig(a.portal.OTPFrame)
	if err := page.EnterFrame(loc); err != nil {
		return time.Time{}, stepError(StepOTPRequest, err)
	}

	requestedAt := a.now()
	cfg := retry.FromConfig(ctx, a.retryCfg, a.logger).Named(StepOTPRequest)
	if err := retry.Do(func() error { return page.Click(a.portal.SendCodeSelector) }, cfg); err != nil {
		return time.Time{}, stepError(StepOTPRequest, err)
	}

	a.logger.Info("Verification code requested")
	return requestedAt, nil
}

// enterCode types the code exactly once
func (a *Authenticator) enterCode(ctx context.Context, page browser.Page, requestedAt time.Time) error {
	var notBefore time.Time
	if a.freshOnly {
		notBefore = requestedAt
	}

	code, err := a.codes.FetchCode(ctx, notBefore)
	if err != nil {
		return stepError(StepOTPCode, err)
	}

	if err := page.WaitVisible(a.portal.CodeInputSelector); err != nil {
		return stepError(StepOTPInput, err)
	}
	if err := page.SendKeys(a.portal.CodeInputSelector, code); err != nil {
		return stepError(StepOTPInput, err)
	}

	a.logger.Info("Verification code entered")
	return nil
}

func (a *Authenticator) transition(to State) {
	a.logger.WithFields(map[string]interface{}{
		"from": a.state.String(),
		"to":   to.String(),
	}).Debug("Login state changed")
	a.state = to
}

// stepError labels err with the flow step, keeping its type
func stepError(step string, err error) error {
	return &errs.Error{Type: errs.TypeOf(err), Op: step, Err: err}
}
