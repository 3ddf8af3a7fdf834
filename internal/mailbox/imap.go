package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/mixelka/codewatch/pkg/models"
)

const logoutGrace = 2 * time.Second

// Session is one authenticated connection to a mailbox with INBOX selected
type Session interface {
	Search(ctx context.Context, criteria models.SearchCriteria) ([]uint32, error)
	// Fetch returns the full source of a message without setting \Seen.
	// A nil message means the UID no longer exists.
	Fetch(ctx context.Context, uid uint32) (*models.CandidateMessage, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Close() error
}

// Dialer opens sessions
type Dialer interface {
	Dial(ctx context.Context, creds models.Credentials, readOnly bool) (Session, error)
}

// IMAPDialer opens IMAP sessions over implicit TLS or STARTTLS
type IMAPDialer struct {
	Timeout   time.Duration
	TLSConfig *tls.Config
}

// Dial connects, logs in and selects INBOX
func (d *IMAPDialer) Dial(ctx context.Context, creds models.Credentials, readOnly bool) (Session, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	tlsConfig := &tls.Config{}
	if d.TLSConfig != nil {
		tlsConfig = d.TLSConfig.Clone()
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = creds.Host
	}

	netDialer := &net.Dialer{Timeout: timeout}

	var imapClient *client.Client
	if creds.UseTLS {
		tlsDialer := &tls.Dialer{NetDialer: netDialer, Config: tlsConfig}
		conn, err := tlsDialer.DialContext(ctx, "tcp", creds.Addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		imapClient, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create IMAP client: %w", err)
		}
	} else {
		conn, err := netDialer.DialContext(ctx, "tcp", creds.Addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		imapClient, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create IMAP client: %w", err)
		}
		if err := imapClient.StartTLS(tlsConfig); err != nil {
			imapClient.Terminate()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	imapClient.Timeout = timeout

	if err := imapClient.Login(creds.Username, creds.Secret); err != nil {
		imapClient.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	if _, err := imapClient.Select(imap.InboxName, readOnly); err != nil {
		imapClient.Logout()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	return &imapSession{client: imapClient}, nil
}

// imapSession serializes commands on one go-imap client. Commands run in
// their own goroutine so a cancelled context abandons them instead of
// blocking the caller.
type imapSession struct {
	mu     sync.Mutex
	cmdMu  sync.Mutex
	client *client.Client
}

func (s *imapSession) run(ctx context.Context, fn func(c *client.Client) error) error {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()

	if c == nil {
		return ErrNotConnected
	}

	done := make(chan error, 1)
	go func() {
		s.cmdMu.Lock()
		defer s.cmdMu.Unlock()
		done <- fn(c)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Search returns the UIDs matching criteria in server order
func (s *imapSession) Search(ctx context.Context, sc models.SearchCriteria) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	if sc.UnseenOnly {
		criteria.WithoutFlags = []string{imap.SeenFlag}
	}
	if !sc.Since.IsZero() {
		criteria.Since = sc.Since
	}
	if sc.Sender != "" {
		criteria.Header.Add("From", sc.Sender)
	}

	var uids []uint32
	err := s.run(ctx, func(c *client.Client) error {
		var err error
		uids, err = c.UidSearch(criteria)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	return uids, nil
}

// Fetch downloads BODY.PEEK[] for uid
func (s *imapSession) Fetch(ctx context.Context, uid uint32) (*models.CandidateMessage, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	var raw []byte
	err := s.run(ctx, func(c *client.Client) error {
		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqSet, items, messages)
		}()

		var readErr error
		for msg := range messages {
			body := msg.GetBody(section)
			if body == nil {
				continue
			}
			b, err := io.ReadAll(body)
			if err != nil {
				readErr = err
				continue
			}
			raw = b
		}

		if err := <-done; err != nil {
			return err
		}
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch uid %d: %w", uid, err)
	}

	if raw == nil {
		return nil, nil
	}

	return &models.CandidateMessage{UID: uid, Raw: raw}, nil
}

// MarkSeen adds the \Seen flag to uid
func (s *imapSession) MarkSeen(ctx context.Context, uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	err := s.run(ctx, func(c *client.Client) error {
		return c.UidStore(seqSet, item, flags, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to mark as read: %w", err)
	}

	return nil
}

// Close logs out, forcing the connection closed if the server is slow
func (s *imapSession) Close() error {
	s.mu.Lock()
	imapClient := s.client
	s.client = nil
	s.mu.Unlock()

	if imapClient == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		imapClient.Logout()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(logoutGrace):
		imapClient.Terminate()
	}

	return nil
}
