package poller

import (
	"errors"
	"fmt"
	"time"

	"github.com/invidias-codem/ai-saas/internal/job"
)

// DefaultMaxTransientFailures is the consecutive transient failure budget.
const DefaultMaxTransientFailures = 3

// ErrInvalidPolicy is returned by Policy.Validate.
var ErrInvalidPolicy = errors.New("poller: invalid policy")

// Policy controls polling cadence and budget for one modality.
type Policy struct {
	// Interval is the delay between polls. The first poll fires one interval after start.
	Interval time.Duration
	// Timeout is the wall-clock budget measured from the start of polling.
	Timeout time.Duration
	// MaxTransientFailures is how many consecutive transient failures end polling.
	MaxTransientFailures int
}

// DefaultPolicy returns the default policy for a modality. Video jobs take
// longer, so they poll less often and get a larger budget.
func DefaultPolicy(m job.Modality) Policy {
	switch m {
	case job.ModalityVideo:
		return Policy{Interval: 7 * time.Second, Timeout: 10 * time.Minute, MaxTransientFailures: DefaultMaxTransientFailures}
	case job.ModalityMusic:
		return Policy{Interval: 5 * time.Second, Timeout: 5 * time.Minute, MaxTransientFailures: DefaultMaxTransientFailures}
	default:
		return Policy{Interval: 3 * time.Second, Timeout: 5 * time.Minute, MaxTransientFailures: DefaultMaxTransientFailures}
	}
}

// Validate checks that the policy can drive a poll loop.
func (p Policy) Validate() error {
	switch {
	case p.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidPolicy)
	case p.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidPolicy)
	case p.MaxTransientFailures < 1:
		return fmt.Errorf("%w: max transient failures must be at least 1", ErrInvalidPolicy)
	}
	return nil
}

// Merge returns p with every zero field taken from def.
func (p Policy) Merge(def Policy) Policy {
	if p.Interval == 0 {
		p.Interval = def.Interval
	}
	if p.Timeout == 0 {
		p.Timeout = def.Timeout
	}
	if p.MaxTransientFailures == 0 {
		p.MaxTransientFailures = def.MaxTransientFailures
	}
	return p
}

// Policies holds a policy per modality.
type Policies map[job.Modality]Policy

// DefaultPolicies returns the default policy for every modality.
func DefaultPolicies() Policies {
	ps := make(Policies, len(job.Modalities))
	for _, m := range job.Modalities {
		ps[m] = DefaultPolicy(m)
	}
	return ps
}

// For returns the policy for m, filling unset fields from the defaults.
func (ps Policies) For(m job.Modality) Policy {
	return ps[m].Merge(DefaultPolicy(m))
}
