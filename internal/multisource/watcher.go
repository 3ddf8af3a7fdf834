package multisource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mixelka/codewatch/internal/clock"
	"github.com/mixelka/codewatch/internal/mailbox"
	"github.com/mixelka/codewatch/pkg/models"
)

const (
	DefaultRoundTimeout = 10 * time.Second
	DefaultPollInterval = 5 * time.Second

	// roundGrace lets a source finish its last poll before the round
	// context abandons it
	roundGrace = 2 * time.Second
)

var (
	// ErrNoSourceAvailable is returned when no mailbox is configured or
	// none could be connected
	ErrNoSourceAvailable = errors.New("no mailbox source available")

	// ErrTimeout is mailbox.ErrTimeout so callers can match either layer
	ErrTimeout = mailbox.ErrTimeout
)

// Source is one mailbox that can be raced against others.
// *mailbox.Watcher implements it.
type Source interface {
	Name() string
	Connect(ctx context.Context) error
	WaitForCode(ctx context.Context, timeout time.Duration) (string, error)
	Close() error
}

// Config enumerates the recognized sources. A source is used only when
// its username and secret are both set.
type Config struct {
	Primary   *models.Credentials
	Secondary *models.Credentials

	Mailbox      mailbox.Options
	RoundTimeout time.Duration
	PollInterval time.Duration
	// Clock paces rounds. Watchers built by New also poll on it unless
	// Mailbox.Clock is set. Watchers in one round share that clock, so a
	// clock.Fake advances once per watcher; give each its own through
	// NewWithSources when exact budgets matter.
	Clock clock.Clock
}

// Outcome of one source check within a round
type Outcome int

const (
	NoMatch Outcome = iota
	CodeFound
	CheckFailed
)

func (o Outcome) String() string {
	switch o {
	case CodeFound:
		return "code"
	case CheckFailed:
		return "error"
	default:
		return "no_match"
	}
}

// RoundResult is what one source reported in one round
type RoundResult struct {
	Source  string
	Outcome Outcome
	Code    string
	Err     error
}

// Watcher races several mailbox sources and returns the first code found
type Watcher struct {
	configured   []Source
	active       []Source
	roundTimeout time.Duration
	pollInterval time.Duration
	clock        clock.Clock
	logger       *slog.Logger
}

// New builds mailbox watchers for the configured sources in order:
// primary, then secondary
func New(cfg Config, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	opts := cfg.Mailbox
	if opts.Clock == nil {
		opts.Clock = cfg.Clock
	}

	var sources []Source
	for _, s := range []struct {
		name  string
		creds *models.Credentials
	}{
		{"primary", cfg.Primary},
		{"secondary", cfg.Secondary},
	} {
		if s.creds == nil || !s.creds.Configured() {
			continue
		}
		sources = append(sources, mailbox.NewWatcher(s.name, *s.creds, opts, logger))
	}

	return NewWithSources(sources, cfg, logger)
}

// NewWithSources races the given sources. Their order is the tie-break
// order when several report a code in the same round.
func NewWithSources(sources []Source, cfg Config, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		configured:   sources,
		roundTimeout: cfg.RoundTimeout,
		pollInterval: cfg.PollInterval,
		clock:        cfg.Clock,
		logger:       logger.With("component", "multi_source_watcher"),
	}
	if w.roundTimeout <= 0 {
		w.roundTimeout = DefaultRoundTimeout
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.clock == nil {
		w.clock = clock.Real{}
	}
	return w
}

// Sources returns the names of connected sources
func (w *Watcher) Sources() []string {
	names := make([]string, 0, len(w.active))
	for _, src := range w.active {
		names = append(names, src.Name())
	}
	return names
}

// Connect connects every configured source. Failures are logged and the
// source dropped; only having nothing left is an error.
func (w *Watcher) Connect(ctx context.Context) error {
	if len(w.configured) == 0 {
		return fmt.Errorf("no mailbox sources configured: %w", ErrNoSourceAvailable)
	}

	connected := make([]bool, len(w.configured))

	var g errgroup.Group
	for i, src := range w.configured {
		g.Go(func() error {
			if err := src.Connect(ctx); err != nil {
				w.logger.Error("failed to connect source", "source", src.Name(), "error", err)
				return nil
			}
			connected[i] = true
			return nil
		})
	}
	g.Wait()

	w.active = w.active[:0]
	for i, src := range w.configured {
		if connected[i] {
			w.active = append(w.active, src)
			w.logger.Info("monitoring source", "source", src.Name())
		}
	}

	if len(w.active) == 0 {
		return fmt.Errorf("could not connect to any mailbox source: %w", ErrNoSourceAvailable)
	}
	return nil
}

// WaitForCode checks all connected sources concurrently in rounds until
// one reports a code or timeout elapses. Source errors only cost that
// source its turn in the round.
func (w *Watcher) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := w.WaitForResult(ctx, timeout)
	if err != nil {
		return "", err
	}
	return result.Code, nil
}

// WaitForResult is WaitForCode that also reports which source won
func (w *Watcher) WaitForResult(ctx context.Context, timeout time.Duration) (RoundResult, error) {
	if timeout <= 0 {
		return RoundResult{}, mailbox.ErrInvalidTimeout
	}
	if len(w.active) == 0 {
		return RoundResult{}, ErrNoSourceAvailable
	}

	// Hard stop for network calls still in flight past the deadline
	overallCtx, cancel := context.WithTimeout(ctx, timeout+roundGrace)
	defer cancel()

	deadline := w.clock.Now().Add(timeout)
	timedOut := fmt.Errorf("no source produced a code within %s: %w", timeout, ErrTimeout)

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return RoundResult{}, err
		}

		budget := min(w.roundTimeout, deadline.Sub(w.clock.Now()))
		if budget <= 0 || overallCtx.Err() != nil {
			return RoundResult{}, timedOut
		}

		results := w.runRound(overallCtx, budget)
		for _, r := range results {
			switch r.Outcome {
			case CodeFound:
				w.logger.Info("verification code received", "source", r.Source, "round", round)
				return r, nil
			case CheckFailed:
				w.logger.Warn("source check failed", "source", r.Source, "round", round, "error", r.Err)
			default:
				w.logger.Debug("no code yet", "source", r.Source, "round", round)
			}
		}

		remaining := deadline.Sub(w.clock.Now())
		if remaining <= 0 {
			return RoundResult{}, timedOut
		}

		select {
		case <-ctx.Done():
			return RoundResult{}, ctx.Err()
		case <-w.clock.After(min(w.pollInterval, remaining)):
		}
	}
}

// runRound checks every active source once and waits for all of them.
// Results keep source order.
func (w *Watcher) runRound(ctx context.Context, budget time.Duration) []RoundResult {
	roundCtx, cancel := context.WithTimeout(ctx, budget+roundGrace)
	defer cancel()

	results := make([]RoundResult, len(w.active))

	var g errgroup.Group
	for i, src := range w.active {
		g.Go(func() error {
			results[i] = check(roundCtx, src, budget)
			return nil
		})
	}
	g.Wait()

	return results
}

func check(ctx context.Context, src Source, budget time.Duration) RoundResult {
	result := RoundResult{Source: src.Name()}

	code, err := src.WaitForCode(ctx, budget)
	switch {
	case err == nil && code != "":
		result.Outcome = CodeFound
		result.Code = code
	case err == nil, errors.Is(err, mailbox.ErrTimeout):
		result.Outcome = NoMatch
	default:
		result.Outcome = CheckFailed
		result.Err = err
	}
	return result
}

// Close closes every connected source. Failures are logged, never returned.
func (w *Watcher) Close() error {
	var errs []error
	for _, src := range w.active {
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}
	}
	w.active = nil

	if err := errors.Join(errs...); err != nil {
		w.logger.Warn("failed to close some sources", "error", err)
	}
	return nil
}
