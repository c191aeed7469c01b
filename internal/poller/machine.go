// Package poller drives a submitted job to a terminal state. The state machine
// in this file is pure; Tracker and Poller add the clock, the status source and
// cancellation.
package poller

import (
	"errors"

	"github.com/invidias-codem/ai-saas/internal/job"
)

// Phase is the poller state.
type Phase int

// Poller phases. Every phase after Polling is terminal.
const (
	PhaseIdle Phase = iota
	PhasePolling
	PhaseSucceeded
	PhaseFailed
	PhaseCanceled
	PhaseTimedOut
)

var phaseNames = map[Phase]string{
	PhaseIdle:      "idle",
	PhasePolling:   "polling",
	PhaseSucceeded: "succeeded",
	PhaseFailed:    "failed",
	PhaseCanceled:  "canceled",
	PhaseTimedOut:  "timed_out",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// IsTerminal returns true if no input can move the machine out of the phase.
func (p Phase) IsTerminal() bool {
	return p >= PhaseSucceeded
}

// Input is an event fed to Step.
type Input interface {
	input()
}

// Start begins polling.
type Start struct{}

// Observed carries a status returned by the provider.
type Observed struct {
	Status job.Status
}

// TransientFailure is a poll that failed in a retryable way.
type TransientFailure struct {
	Err error
}

// FatalFailure is a poll that failed permanently.
type FatalFailure struct {
	Err error
}

// Expired signals that the wall-clock budget ran out.
type Expired struct{}

// Cancel stops polling on behalf of the caller.
type Cancel struct{}

func (Start) input()            {}
func (Observed) input()         {}
func (TransientFailure) input() {}
func (FatalFailure) input()     {}
func (Expired) input()          {}
func (Cancel) input()           {}

// Machine is the poller state for one job handle. The zero value is idle with
// no transient failure budget; use NewMachine.
type Machine struct {
	Phase Phase
	// Last is the most recent observed status.
	Last job.Status
	// Polls counts observations.
	Polls int
	// ConsecutiveFailures counts transient failures since the last observation.
	ConsecutiveFailures int
	// MaxTransientFailures is the budget of consecutive transient failures.
	MaxTransientFailures int
	// Err is set for PhaseFailed and PhaseTimedOut and is always a *job.Error.
	Err error
	// Detail explains terminal outcomes, e.g. the provider's failure message.
	Detail string
}

// NewMachine creates an idle machine.
func NewMachine(maxTransientFailures int) Machine {
	if maxTransientFailures < 1 {
		maxTransientFailures = 1
	}
	return Machine{MaxTransientFailures: maxTransientFailures}
}

// Step applies in to m and returns the next machine. Terminal machines are
// returned unchanged whatever the input.
func Step(m Machine, in Input) Machine {
	if m.Phase.IsTerminal() {
		return m
	}

	switch in := in.(type) {
	case Start:
		if m.Phase == PhaseIdle {
			m.Phase = PhasePolling
		}
	case Cancel:
		m.Phase = PhaseCanceled
		m.Detail = "canceled by caller"
	case Expired:
		if m.Phase != PhasePolling {
			return m
		}
		m.Phase = PhaseTimedOut
		m.Err = job.Errorf(job.KindTimedOut, "no terminal status after %d polls", m.Polls)
		m.Detail = job.DetailOf(m.Err)
	case Observed:
		if m.Phase != PhasePolling {
			return m
		}
		m = observe(m, in.Status)
	case TransientFailure:
		if m.Phase != PhasePolling {
			return m
		}
		m.ConsecutiveFailures++
		if m.ConsecutiveFailures >= m.MaxTransientFailures {
			m.Phase = PhaseFailed
			m.Err = job.NewError(job.KindPollingExhausted,
				"status unavailable after consecutive transient failures", in.Err)
			m.Detail = job.DetailOf(m.Err)
		}
	case FatalFailure:
		if m.Phase != PhasePolling {
			return m
		}
		m.Phase = PhaseFailed
		m.Err = asJobError(in.Err)
		m.Detail = job.DetailOf(m.Err)
	}
	return m
}

func observe(m Machine, st job.Status) Machine {
	m.Last = st
	m.Polls++
	m.ConsecutiveFailures = 0

	switch st.State {
	case job.StateSucceeded:
		m.Phase = PhaseSucceeded
	case job.StateFailed:
		m.Phase = PhaseFailed
		detail := st.ErrorDetail
		if detail == "" {
			detail = "provider reported failure"
		}
		m.Err = job.NewError(job.KindProviderFailed, detail, nil)
		m.Detail = detail
	case job.StateCanceled:
		m.Phase = PhaseCanceled
		m.Detail = st.ErrorDetail
		if m.Detail == "" {
			m.Detail = "canceled by provider"
		}
	}
	return m
}

// asJobError keeps classified errors and wraps anything else as provider rejection.
func asJobError(err error) error {
	if err == nil {
		return job.Errorf(job.KindProviderRejected, "status request failed")
	}
	var classified *job.Error
	if errors.As(err, &classified) {
		return err
	}
	return job.NewError(job.KindProviderRejected, "status request failed", err)
}
