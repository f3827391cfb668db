package portal

import (
	"klarnaparser/pkg/browser"
	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
)

// ConsentHandler dismisses the cookie consent banner
type ConsentHandler struct {
	selector string
	required bool
	logger   logger.Logger
}

// NewConsentHandler creates a handler for the configured banner button.
// With portal.consent_required the banner must be present.
func NewConsentHandler(cfg config.PortalConfig, log logger.Logger) *ConsentHandler {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ConsentHandler{
		selector: cfg.ConsentSelector,
		required: cfg.ConsentRequired,
		logger:   log.WithField("component", "consent"),
	}
}

// Dismiss clicks the accept button. A banner that never shows up within
// the wait window is skipped; a dead session is still an error.
func (h *ConsentHandler) Dismiss(page browser.Page) error {
	err := page.Click(h.selector)
	if err == nil {
		h.logger.Info("Cookie consent accepted")
		return nil
	}

	if !h.required && errs.Is(err, errs.ErrElementNotFound) {
		h.logger.WithField("selector", h.selector).Warn("Cookie consent banner not shown, continuing")
		return nil
	}

	return stepError(StepConsent, err)
}
