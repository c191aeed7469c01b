package poller

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/invidias-codem/ai-saas/internal/job"
)

// StatusSource fetches the status of a job. generator.Generator satisfies it.
type StatusSource interface {
	Status(ctx context.Context, h job.Handle) (job.Status, error)
}

// PollObserver is notified of every status request outcome.
type PollObserver interface {
	ObservePoll(modality job.Modality, result string)
}

// Poll results reported to a PollObserver.
const (
	PollOK        = "ok"
	PollTransient = "transient_error"
	PollFatal     = "fatal_error"
)

// Tracker advances the machine of a single job one tick at a time. It is not
// safe for concurrent use; ticks for one handle never overlap.
type Tracker struct {
	source   StatusSource
	handle   job.Handle
	policy   Policy
	clock    clockwork.Clock
	observer PollObserver
	machine  Machine
	started  time.Time
}

// NewTracker creates a tracker in the polling phase. The timeout budget starts now.
func NewTracker(source StatusSource, h job.Handle, policy Policy, clock clockwork.Clock) *Tracker {
	return &Tracker{
		source:  source,
		handle:  h,
		policy:  policy,
		clock:   clock,
		machine: Step(NewMachine(policy.MaxTransientFailures), Start{}),
		started: clock.Now(),
	}
}

// Remaining returns the unspent part of the wall-clock budget.
func (t *Tracker) Remaining() time.Duration {
	if d := t.policy.Timeout - t.clock.Since(t.started); d > 0 {
		return d
	}
	return 0
}

// Machine returns the current machine.
func (t *Tracker) Machine() Machine {
	return t.machine
}

// Expired reports whether the wall-clock budget is spent.
func (t *Tracker) Expired() bool {
	return t.clock.Since(t.started) >= t.policy.Timeout
}

// Tick performs at most one status request and returns the resulting machine.
// It reports whether the tick produced a non-terminal observation.
func (t *Tracker) Tick(ctx context.Context) (Machine, bool) {
	if t.machine.Phase.IsTerminal() {
		return t.machine, false
	}
	if t.Expired() {
		t.machine = Step(t.machine, Expired{})
		return t.machine, false
	}

	st, err := t.source.Status(ctx, t.handle)
	switch {
	case err == nil:
		t.observe(PollOK)
		t.machine = Step(t.machine, Observed{Status: st})
	case job.KindOf(err) == job.KindTransport:
		t.observe(PollTransient)
		t.machine = Step(t.machine, TransientFailure{Err: err})
	default:
		t.observe(PollFatal)
		t.machine = Step(t.machine, FatalFailure{Err: err})
	}

	// A terminal answer wins over a deadline that passed while the request was in flight.
	if !t.machine.Phase.IsTerminal() && t.Expired() {
		t.machine = Step(t.machine, Expired{})
		return t.machine, false
	}
	return t.machine, err == nil && !t.machine.Phase.IsTerminal()
}

// Expire forces the timeout transition.
func (t *Tracker) Expire() Machine {
	t.machine = Step(t.machine, Expired{})
	return t.machine
}

// Cancel forces the cancel transition.
func (t *Tracker) Cancel() Machine {
	t.machine = Step(t.machine, Cancel{})
	return t.machine
}

func (t *Tracker) observe(result string) {
	if t.observer != nil {
		t.observer.ObservePoll(t.handle.Modality, result)
	}
}
