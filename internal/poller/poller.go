package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/invidias-codem/ai-saas/internal/job"
)

// DefaultRequestTimeout bounds a single status request.
const DefaultRequestTimeout = 30 * time.Second

// Poller runs the poll loop for submitted jobs. A Poller holds no per-job
// state and can serve any number of concurrent Poll calls.
type Poller struct {
	source         StatusSource
	clock          clockwork.Clock
	logger         *slog.Logger
	observer       PollObserver
	requestTimeout time.Duration
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock sets the clock used for ticks and the timeout budget.
func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// WithObserver reports every status request outcome to o.
func WithObserver(o PollObserver) Option {
	return func(p *Poller) {
		p.observer = o
	}
}

// WithRequestTimeout bounds a single status request.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Poller) {
		p.requestTimeout = d
	}
}

// New creates a Poller reading statuses from source.
func New(source StatusSource, opts ...Option) *Poller {
	p := &Poller{
		source:         source,
		clock:          clockwork.NewRealClock(),
		logger:         slog.Default(),
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll polls h until it reaches a terminal phase and returns the final machine.
// It returns exactly once per call.
//
// The first status request fires one interval after Poll starts. A tick that
// arrives while a request is in flight is dropped. onProgress, if set, runs
// synchronously after every non-terminal observation.
//
// Canceling ctx stops the loop at the next tick boundary. A request already in
// flight runs to completion on a detached context and its result is discarded.
func (p *Poller) Poll(ctx context.Context, h job.Handle, policy Policy, onProgress func(job.Status)) Machine {
	log := p.logger.With(
		slog.String("job_id", h.ID),
		slog.String("modality", string(h.Modality)),
	)

	tracker := NewTracker(p.source, h, policy, p.clock)
	tracker.observer = p.observer

	ticker := p.clock.NewTicker(policy.Interval)
	defer ticker.Stop()
	timer := p.clock.NewTimer(policy.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return tracker.Cancel()
		case <-timer.Chan():
			m := tracker.Expire()
			log.Warn("job timed out", slog.Int("polls", m.Polls), slog.Duration("timeout", policy.Timeout))
			return m
		case <-ticker.Chan():
		}

		before := tracker.Machine()
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.requestTimeout)
		m, progressed := tracker.Tick(reqCtx)
		cancel()

		if ctx.Err() != nil {
			return Step(before, Cancel{})
		}

		if m.ConsecutiveFailures > before.ConsecutiveFailures {
			log.Warn("status poll failed",
				slog.Int("consecutive_failures", m.ConsecutiveFailures),
				slog.Int("max_transient_failures", m.MaxTransientFailures),
				slog.Duration("remaining", tracker.Remaining()),
			)
		}

		if m.Phase.IsTerminal() {
			log.Info("job reached terminal state",
				slog.String("phase", m.Phase.String()),
				slog.Int("polls", m.Polls),
			)
			return m
		}

		if progressed && onProgress != nil {
			onProgress(m.Last)
		}

		// Skip, never queue, ticks that came due during the request.
		select {
		case <-ticker.Chan():
		default:
		}
	}
}
