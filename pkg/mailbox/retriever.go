package mailbox

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"

	"klarnaparser/pkg/config"
	errs "klarnaparser/pkg/errors"
	"klarnaparser/pkg/logger"
	"klarnaparser/pkg/retry"
)

const opDial = "imap-dial"

// Retriever fetches one-time codes from the newest message sent by the
// portal's notification address.
type Retriever struct {
	cfg    config.MailboxConfig
	dial   Dialer
	logger logger.Logger
}

// Option configures a Retriever
type Option func(*Retriever)

// WithDialer replaces the IMAP dialer
func WithDialer(d Dialer) Option {
	return func(r *Retriever) {
		r.dial = d
	}
}

// NewRetriever creates a retriever for the configured mailbox
func NewRetriever(cfg config.MailboxConfig, log logger.Logger, opts ...Option) *Retriever {
	if log == nil {
		log = logger.NewNopLogger()
	}
	r := &Retriever{
		cfg:    cfg,
		dial:   DialTLS,
		logger: log.WithField("component", "mailbox"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FetchCode returns the code in the newest message from the configured
// sender. Messages received before notBefore are ignored unless it is zero.
//
// The mailbox is queried again every poll interval while no matching
// message exists or the server is unreachable, up to the poll timeout.
// A newest message without a code fails immediately.
func (r *Retriever) FetchCode(ctx context.Context, notBefore time.Time) (string, error) {
	attempts := 1
	if r.cfg.PollInterval > 0 && r.cfg.PollTimeout > 0 {
		attempts += int(r.cfg.PollTimeout / r.cfg.PollInterval)
	}

	cfg := &retry.Config{
		MaxAttempts: attempts,
		Backoff:     &retry.ConstantBackoff{Delay: r.cfg.PollInterval},
		RetryIf:     retryQuery,
		Context:     ctx,
		Logger:      r.logger,
		Op:          "mailbox-query",
	}

	return retry.DoWithResult(func() (string, error) {
		return r.fetchOnce(ctx, notBefore)
	}, cfg)
}

// retryQuery retries a missing message and a failed connection. Login
// failures and messages without a code are final.
func retryQuery(err error) bool {
	if errs.Is(err, errs.ErrCodeSourceNotFound) {
		return true
	}
	var typed *errs.Error
	return errs.As(err, &typed) && typed.Op == opDial
}

func (r *Retriever) fetchOnce(ctx context.Context, notBefore time.Time) (string, error) {
	addr := net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port))

	c, err := r.dial(ctx, addr)
	if err != nil {
		return "", errs.Newf(errs.ErrorTypeInfrastructure, opDial, err, "connect to %s", addr)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer func() { _ = c.Logout() }()

	if err := c.Login(r.cfg.Address, r.cfg.Password); err != nil {
		return "", errs.Newf(errs.ErrorTypeInfrastructure, "imap-login", err, "login as %s", r.cfg.Address)
	}
	r.logger.Debug("Connected to mailbox")

	if _, err := c.Select(r.cfg.Folder, true); err != nil {
		return "", errs.Newf(errs.ErrorTypeInfrastructure, "imap-select", err, "select %s", r.cfg.Folder)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("From", r.cfg.Sender)
	if !notBefore.IsZero() {
		criteria.Since = searchSince(notBefore)
	}

	ids, err := c.Search(criteria)
	if err != nil {
		return "", errs.Newf(errs.ErrorTypeInfrastructure, "imap-search", err, "search from %s", r.cfg.Sender)
	}
	if len(ids) == 0 {
		return "", errs.Newf(errs.ErrorTypeDataAbsence, "mailbox", errs.ErrCodeSourceNotFound, "no message from %s", r.cfg.Sender)
	}

	newest := ids[0]
	for _, id := range ids[1:] {
		if id > newest {
			newest = id
		}
	}

	msg, raw, err := r.fetchMessage(c, newest)
	if err != nil {
		return "", err
	}
	if !notBefore.IsZero() && msg.InternalDate.Before(notBefore) {
		return "", errs.Newf(errs.ErrorTypeDataAbsence, "mailbox", errs.ErrCodeSourceNotFound,
			"newest message from %s predates the code request", r.cfg.Sender)
	}

	body, err := PlainText(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}

	code, err := ExtractCode(body)
	if err != nil {
		r.logger.WithField("seq", newest).Error("Code not found in newest message")
		return "", err
	}

	r.logger.WithField("code", config.MaskSecret(code)).Info("Verification code retrieved")
	return code, nil
}

// searchSince turns notBefore into a SINCE date one day early. Servers
// compare SINCE by date only, in their own zone, so it is a coarse filter;
// the internal date check after the fetch is exact.
func searchSince(notBefore time.Time) time.Time {
	d := notBefore.UTC().AddDate(0, 0, -1)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func (r *Retriever) fetchMessage(c Client, seq uint32) (*imap.Message, []byte, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(seq)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		if msg == nil {
			msg = m
		}
	}
	if err := <-done; err != nil {
		return nil, nil, errs.Newf(errs.ErrorTypeInfrastructure, "imap-fetch", err, "fetch message %d", seq)
	}
	if msg == nil {
		return nil, nil, errs.Newf(errs.ErrorTypeDataAbsence, "mailbox", errs.ErrCodeSourceNotFound, "message %d vanished", seq)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, nil, errs.Newf(errs.ErrorTypeInfrastructure, "imap-fetch", fmt.Errorf("server returned no body"), "fetch message %d", seq)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return nil, nil, errs.Newf(errs.ErrorTypeInfrastructure, "imap-fetch", err, "read message %d", seq)
	}
	return msg, buf.Bytes(), nil
}
