package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mixelka/codewatch/internal/clock"
	"github.com/mixelka/codewatch/internal/parser"
	"github.com/mixelka/codewatch/pkg/models"
)

const (
	// DefaultSender is the address Microsoft account protection mails come from
	DefaultSender       = "account@accountprotection.microsoft.com"
	DefaultLookback     = 24 * time.Hour
	DefaultPollInterval = 5 * time.Second
)

// State of a watcher's polling state machine
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Polling
	Found
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Polling:
		return "polling"
	case Found:
		return "found"
	case TimedOut:
		return "timed_out"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options tune a Watcher. Zero values take defaults.
type Options struct {
	Sender       string
	Lookback     time.Duration
	PollInterval time.Duration
	// MarkSeen flags the message a code was taken from as \Seen.
	// Otherwise INBOX is opened read-only and seen state never changes.
	MarkSeen bool
	// RollingWindow recomputes the since date on every poll instead of
	// anchoring it at connect time
	RollingWindow bool

	Dialer   Dialer
	Clock    clock.Clock
	Detector *parser.CodeDetector
	Parser   *parser.HTMLParser
}

func (o Options) withDefaults() Options {
	if o.Sender == "" {
		o.Sender = DefaultSender
	}
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Dialer == nil {
		o.Dialer = &IMAPDialer{}
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Detector == nil {
		o.Detector = parser.NewCodeDetector()
	}
	if o.Parser == nil {
		o.Parser = parser.NewHTMLParser()
	}
	return o
}

// Watcher polls a single mailbox for a verification code. It owns its
// session exclusively.
type Watcher struct {
	name   string
	creds  models.Credentials
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	session  Session
	state    State
	criteria models.SearchCriteria
	// UIDs already fetched that carried no code
	examined map[uint32]struct{}
}

// NewWatcher creates a watcher for one mailbox source
func NewWatcher(name string, creds models.Credentials, opts Options, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		name:   name,
		creds:  creds,
		opts:   opts.withDefaults(),
		logger: logger.With("component", "mailbox_watcher", "source", name),
	}
}

// Name returns the source name
func (w *Watcher) Name() string {
	return w.name
}

// State returns the current state
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Connect opens an authenticated session. It does not retry.
func (w *Watcher) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.session != nil {
		w.mu.Unlock()
		return nil
	}
	w.state = Connecting
	w.mu.Unlock()

	if err := w.creds.Validate(); err != nil {
		w.setState(Disconnected)
		return &ConnectionError{Source: w.name, Err: err}
	}

	w.logger.Info("connecting to IMAP server", "server", w.creds.Addr())

	session, err := w.opts.Dialer.Dial(ctx, w.creds, !w.opts.MarkSeen)
	if err != nil {
		w.setState(Disconnected)
		return &ConnectionError{Source: w.name, Err: err}
	}

	now := w.opts.Clock.Now()

	w.mu.Lock()
	w.session = session
	w.state = Connected
	w.criteria = models.SearchCriteria{
		Sender:     w.opts.Sender,
		Since:      now.Add(-w.opts.Lookback),
		UnseenOnly: true,
	}
	w.examined = make(map[uint32]struct{})
	w.mu.Unlock()

	w.logger.Info("connected to IMAP server")
	return nil
}

// WaitForCode polls every PollInterval until a message from the sender
// yields a code or timeout elapses. The deadline counts from the first
// poll. A failing session ends the call with a *SessionError and leaves
// the watcher disconnected.
func (w *Watcher) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return "", fmt.Errorf("%s: %w", w.name, ErrInvalidTimeout)
	}

	w.mu.Lock()
	session := w.session
	if session != nil {
		w.state = Polling
	}
	w.mu.Unlock()

	if session == nil {
		return "", fmt.Errorf("%s: %w", w.name, ErrNotConnected)
	}

	deadline := w.opts.Clock.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			w.setState(Connected)
			return "", err
		}

		code, err := w.poll(ctx, session)
		if err != nil {
			if ctx.Err() != nil {
				w.setState(Connected)
				return "", ctx.Err()
			}
			w.fail(session)
			w.logger.Error("session failed while polling", "error", err)
			return "", err
		}

		if code != "" {
			w.setState(Found)
			w.logger.Info("found verification code")
			return code, nil
		}

		remaining := deadline.Sub(w.opts.Clock.Now())
		if remaining <= 0 {
			w.setState(TimedOut)
			return "", fmt.Errorf("%s: %w", w.name, ErrTimeout)
		}

		select {
		case <-ctx.Done():
			w.setState(Connected)
			return "", ctx.Err()
		case <-w.opts.Clock.After(min(w.opts.PollInterval, remaining)):
		}
	}
}

// poll runs one search and scans hits newest first
func (w *Watcher) poll(ctx context.Context, session Session) (string, error) {
	criteria := w.searchCriteria()

	uids, err := session.Search(ctx, criteria)
	if err != nil {
		return "", &SessionError{Source: w.name, Stage: "search", Err: err}
	}

	w.logger.Debug("searched mailbox", "matches", len(uids))

	slices.Sort(uids)
	slices.Reverse(uids)

	for _, uid := range uids {
		if w.wasExamined(uid) {
			continue
		}

		msg, err := session.Fetch(ctx, uid)
		if err != nil {
			return "", &SessionError{Source: w.name, Stage: "fetch", Err: err}
		}
		if msg == nil {
			continue
		}

		text := w.opts.Parser.MessageText(msg.Raw)
		code, ok := w.opts.Detector.Extract(text)
		if !ok {
			w.logger.Debug("message has no code", "uid", uid)
			w.markExamined(uid)
			continue
		}

		if w.opts.MarkSeen {
			if err := session.MarkSeen(ctx, uid); err != nil {
				w.logger.Warn("failed to mark message as read", "uid", uid, "error", err)
			}
		}

		return code, nil
	}

	return "", nil
}

func (w *Watcher) searchCriteria() models.SearchCriteria {
	w.mu.Lock()
	criteria := w.criteria
	w.mu.Unlock()

	if w.opts.RollingWindow {
		criteria.Since = w.opts.Clock.Now().Add(-w.opts.Lookback)
	}
	return criteria
}

func (w *Watcher) wasExamined(uid uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.examined[uid]
	return ok
}

func (w *Watcher) markExamined(uid uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.examined != nil {
		w.examined[uid] = struct{}{}
	}
}

// fail drops a broken session so later calls report ErrNotConnected
func (w *Watcher) fail(session Session) {
	w.mu.Lock()
	if w.session != session {
		w.mu.Unlock()
		return
	}
	w.session = nil
	w.state = Failed
	w.mu.Unlock()

	session.Close()
}

// Close releases the session if any. Safe to call repeatedly.
func (w *Watcher) Close() error {
	w.mu.Lock()
	session := w.session
	w.session = nil
	w.state = Disconnected
	w.mu.Unlock()

	if session == nil {
		return nil
	}

	if err := session.Close(); err != nil {
		w.logger.Warn("failed to close session", "error", err)
	}
	w.logger.Info("disconnected from IMAP server")
	return nil
}
