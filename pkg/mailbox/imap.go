package mailbox

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// dialTimeout bounds the TCP and TLS handshake with the IMAP server
const dialTimeout = 30 * time.Second

// Client is the part of an IMAP session the retriever uses.
// *client.Client from go-imap satisfies it.
type Client interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
	Terminate() error
}

// Dialer opens an unauthenticated IMAP connection to addr
type Dialer func(ctx context.Context, addr string) (Client, error)

// DialTLS connects to addr over implicit TLS (IMAPS)
func DialTLS(ctx context.Context, addr string) (Client, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	d := &net.Dialer{Timeout: dialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}

	c, err := client.DialWithDialerTLS(d, addr, &tls.Config{ServerName: host})
	if err != nil {
		return nil, err
	}
	c.Timeout = dialTimeout
	return c, nil
}
