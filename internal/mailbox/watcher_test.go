package mailbox

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/mixelka/codewatch/internal/clock"
	"github.com/mixelka/codewatch/pkg/models"
)

var testStart = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func testCredentials() models.Credentials {
	return models.Credentials{
		Host:     "imap.example.com",
		Port:     993,
		Username: "watcher@example.com",
		Secret:   "app-password",
		UseTLS:   true,
	}
}

func newTestWatcher(t *testing.T, dialer Dialer, clk clock.Clock, opts Options) *Watcher {
	t.Helper()
	opts.Dialer = dialer
	opts.Clock = clk
	return NewWatcher("primary", testCredentials(), opts, slog.New(slog.DiscardHandler))
}

func connectedWatcher(t *testing.T, session *fakeSession, opts Options) (*Watcher, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testStart)
	w := newTestWatcher(t, &fakeDialer{session: session}, clk, opts)
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return w, clk
}

func TestWatcherConnectFailure(t *testing.T) {
	dialer := &fakeDialer{err: errNetwork}
	w := newTestWatcher(t, dialer, clock.NewFake(testStart), Options{})

	err := w.Connect(context.Background())

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %v", err)
	}
	if connErr.Source != "primary" {
		t.Errorf("expected source primary, got %q", connErr.Source)
	}
	if !errors.Is(err, errNetwork) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if w.State() != Disconnected {
		t.Errorf("expected state disconnected, got %s", w.State())
	}

	_, err = w.WaitForCode(context.Background(), time.Minute)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestWatcherConnectRejectsIncompleteCredentials(t *testing.T) {
	dialer := &fakeDialer{session: &fakeSession{}}
	creds := testCredentials()
	creds.Host = ""

	w := NewWatcher("primary", creds, Options{Dialer: dialer}, slog.New(slog.DiscardHandler))

	var connErr *ConnectionError
	if err := w.Connect(context.Background()); !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %v", err)
	}
	if dialer.calls != 0 {
		t.Errorf("expected no dial attempt, got %d", dialer.calls)
	}
}

func TestWatcherReturnsCodeFromNewestMessage(t *testing.T) {
	session := &fakeSession{
		messages: []fakeMessage{
			{uid: 3, raw: rawEmail("Security code: 111111")},
			{uid: 7, raw: rawEmail("Security code: 777777")},
			{uid: 5, raw: rawEmail("Security code: 555555")},
		},
	}
	w, _ := connectedWatcher(t, session, Options{})

	code, err := w.WaitForCode(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("WaitForCode() error = %v", err)
	}

	if code != "777777" {
		t.Errorf("expected newest code 777777, got %s", code)
	}
	if !slices.Equal(session.fetched, []uint32{7}) {
		t.Errorf("expected only uid 7 fetched, got %v", session.fetched)
	}
	if w.State() != Found {
		t.Errorf("expected state found, got %s", w.State())
	}
}

func TestWatcherSkipsMessagesWithoutCode(t *testing.T) {
	session := &fakeSession{
		messages: []fakeMessage{
			{uid: 5, raw: rawEmail("Your security code is 482913. Enter it below to confirm.")},
			{uid: 9, raw: rawEmail("Order #583920 has shipped.")},
		},
	}
	w, _ := connectedWatcher(t, session, Options{})

	code, err := w.WaitForCode(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("WaitForCode() error = %v", err)
	}

	if code != "482913" {
		t.Errorf("expected 482913, got %s", code)
	}
	if !slices.Equal(session.fetched, []uint32{9, 5}) {
		t.Errorf("expected fetch order [9 5], got %v", session.fetched)
	}
}

func TestWatcherFindsCodeArrivingLater(t *testing.T) {
	session := &fakeSession{
		messages: []fakeMessage{
			{uid: 12, raw: rawEmail("Security code: 246810"), visibleFrom: 3},
		},
	}
	w, clk := connectedWatcher(t, session, Options{})

	code, err := w.WaitForCode(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("WaitForCode() error = %v", err)
	}

	if code != "246810" {
		t.Errorf("expected 246810, got %s", code)
	}
	if session.polls != 3 {
		t.Errorf("expected 3 polls, got %d", session.polls)
	}
	want := []time.Duration{5 * time.Second, 5 * time.Second}
	if !slices.Equal(clk.Waits(), want) {
		t.Errorf("expected waits %v, got %v", want, clk.Waits())
	}
}

func TestWatcherTimeout(t *testing.T) {
	session := &fakeSession{}
	w, clk := connectedWatcher(t, session, Options{})

	start := clk.Now()
	_, err := w.WaitForCode(context.Background(), 12*time.Second)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := clk.Now().Sub(start); elapsed != 12*time.Second {
		t.Errorf("expected to give up after 12s, got %s", elapsed)
	}
	// Polls at 0s, 5s, 10s and a final one at the deadline
	if session.polls != 4 {
		t.Errorf("expected 4 polls, got %d", session.polls)
	}
	want := []time.Duration{5 * time.Second, 5 * time.Second, 2 * time.Second}
	if !slices.Equal(clk.Waits(), want) {
		t.Errorf("expected waits %v, got %v", want, clk.Waits())
	}
	if w.State() != TimedOut {
		t.Errorf("expected state timed_out, got %s", w.State())
	}
}

func TestWatcherDoesNotRefetchExaminedMessages(t *testing.T) {
	session := &fakeSession{
		messages: []fakeMessage{
			{uid: 4, raw: rawEmail("Welcome to your new mailbox")},
		},
	}
	w, _ := connectedWatcher(t, session, Options{})

	if _, err := w.WaitForCode(context.Background(), 10*time.Second); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	if session.polls != 3 {
		t.Errorf("expected 3 polls, got %d", session.polls)
	}
	if !slices.Equal(session.fetched, []uint32{4}) {
		t.Errorf("expected uid 4 fetched once, got %v", session.fetched)
	}
}

func TestWatcherSessionError(t *testing.T) {
	tests := []struct {
		name    string
		session *fakeSession
		stage   string
	}{
		{
			name:    "search fails",
			session: &fakeSession{searchErr: errNetwork},
			stage:   "search",
		},
		{
			name: "fetch fails",
			session: &fakeSession{
				messages: []fakeMessage{{uid: 1, raw: rawEmail("Security code: 123456")}},
				fetchErr: errNetwork,
			},
			stage: "fetch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, clk := connectedWatcher(t, tt.session, Options{})

			_, err := w.WaitForCode(context.Background(), time.Minute)

			var sessErr *SessionError
			if !errors.As(err, &sessErr) {
				t.Fatalf("expected *SessionError, got %v", err)
			}
			if sessErr.Stage != tt.stage {
				t.Errorf("expected stage %s, got %s", tt.stage, sessErr.Stage)
			}
			if !errors.Is(err, errNetwork) {
				t.Errorf("expected cause to be preserved, got %v", err)
			}
			if len(clk.Waits()) != 0 {
				t.Errorf("expected no retry delay, got %v", clk.Waits())
			}
			if w.State() != Failed {
				t.Errorf("expected state failed, got %s", w.State())
			}
			if tt.session.closed != 1 {
				t.Errorf("expected failed session to be closed once, got %d", tt.session.closed)
			}

			if _, err := w.WaitForCode(context.Background(), time.Minute); !errors.Is(err, ErrNotConnected) {
				t.Errorf("expected ErrNotConnected after failure, got %v", err)
			}
		})
	}
}

func TestWatcherSearchCriteria(t *testing.T) {
	session := &fakeSession{}
	w, clk := connectedWatcher(t, session, Options{})

	clk.Advance(2 * time.Hour)
	if _, err := w.WaitForCode(context.Background(), time.Second); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	want := models.SearchCriteria{
		Sender:     DefaultSender,
		Since:      testStart.Add(-24 * time.Hour),
		UnseenOnly: true,
	}
	for i, got := range session.criteria {
		if got != want {
			t.Errorf("poll %d: criteria = %+v, want %+v", i, got, want)
		}
	}
}

func TestWatcherRollingWindow(t *testing.T) {
	session := &fakeSession{}
	w, clk := connectedWatcher(t, session, Options{RollingWindow: true, Lookback: time.Hour})

	clk.Advance(3 * time.Hour)
	if _, err := w.WaitForCode(context.Background(), time.Second); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	first := session.criteria[0].Since
	if want := testStart.Add(2 * time.Hour); !first.Equal(want) {
		t.Errorf("expected since %s, got %s", want, first)
	}
}

func TestWatcherSeenPolicy(t *testing.T) {
	tests := []struct {
		name         string
		markSeen     bool
		wantReadOnly bool
		wantSeen     []uint32
	}{
		{name: "leave unseen", markSeen: false, wantReadOnly: true},
		{name: "mark seen", markSeen: true, wantReadOnly: false, wantSeen: []uint32{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{
				messages: []fakeMessage{{uid: 2, raw: rawEmail("Security code: 908172")}},
			}
			dialer := &fakeDialer{session: session}
			w := newTestWatcher(t, dialer, clock.NewFake(testStart), Options{MarkSeen: tt.markSeen})

			if err := w.Connect(context.Background()); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			if _, err := w.WaitForCode(context.Background(), time.Minute); err != nil {
				t.Fatalf("WaitForCode() error = %v", err)
			}

			if dialer.readOnly != tt.wantReadOnly {
				t.Errorf("expected readOnly %v, got %v", tt.wantReadOnly, dialer.readOnly)
			}
			if !slices.Equal(session.seen, tt.wantSeen) {
				t.Errorf("expected seen %v, got %v", tt.wantSeen, session.seen)
			}
		})
	}
}

func TestWatcherInvalidTimeout(t *testing.T) {
	w, _ := connectedWatcher(t, &fakeSession{}, Options{})

	if _, err := w.WaitForCode(context.Background(), 0); !errors.Is(err, ErrInvalidTimeout) {
		t.Errorf("expected ErrInvalidTimeout, got %v", err)
	}
}

func TestWatcherContextCancelled(t *testing.T) {
	w, _ := connectedWatcher(t, &fakeSession{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := w.WaitForCode(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if w.State() != Connected {
		t.Errorf("expected watcher to stay connected, got %s", w.State())
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	session := &fakeSession{}
	w, _ := connectedWatcher(t, session, Options{})

	for i := 0; i < 3; i++ {
		if err := w.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}

	if session.closed != 1 {
		t.Errorf("expected session closed once, got %d", session.closed)
	}
	if w.State() != Disconnected {
		t.Errorf("expected state disconnected, got %s", w.State())
	}

	unconnected := newTestWatcher(t, &fakeDialer{}, clock.NewFake(testStart), Options{})
	if err := unconnected.Close(); err != nil {
		t.Errorf("Close() on unconnected watcher error = %v", err)
	}
}
