package job

import (
	"errors"
	"sync"
	"time"

	"github.com/invidias-codem/ai-saas/internal/job/id"
)

// Phase is the lifecycle position of an orchestration session as seen by clients.
type Phase string

const (
	// PhaseSubmitting means the provider job is being created.
	PhaseSubmitting Phase = "submitting"
	// PhasePolling means the provider job exists and is being polled.
	PhasePolling Phase = "polling"
	// PhaseResolving means the job succeeded and artifacts are being resolved.
	PhaseResolving Phase = "resolving"
	// PhaseCompleted means at least one artifact is available.
	PhaseCompleted Phase = "completed"
	// PhaseFailed means the session ended with an error.
	PhaseFailed Phase = "failed"
	// PhaseCanceled means the session was canceled locally or by the provider.
	PhaseCanceled Phase = "canceled"
)

// IsTerminal returns true if the phase ends the session.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCanceled
}

// ErrInvalidTransition is returned when an invalid phase transition is attempted.
var ErrInvalidTransition = errors.New("invalid phase transition")

// validTransitions defines which phase transitions are allowed.
var validTransitions = map[Phase][]Phase{
	PhaseSubmitting: {PhasePolling, PhaseFailed, PhaseCanceled},
	PhasePolling:    {PhaseResolving, PhaseFailed, PhaseCanceled},
	PhaseResolving:  {PhaseCompleted, PhaseFailed, PhaseCanceled},
	PhaseCompleted:  {},
	PhaseFailed:     {},
	PhaseCanceled:   {},
}

// canTransition checks if a transition from one phase to another is valid.
func canTransition(from, to Phase) bool {
	for _, p := range validTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Record is the client-facing snapshot of one orchestration session.
type Record struct {
	mu sync.RWMutex

	// ID is the session identifier.
	ID string
	// Surface is the UI surface that owns the session.
	Surface string
	// Modality is the kind of content requested.
	Modality Modality
	// JobID is the provider job identifier, set once submission succeeds.
	JobID string
	// Phase is the current lifecycle phase.
	Phase Phase
	// ProviderState is the last normalized provider state observed.
	ProviderState State
	// Polls is the number of status requests that returned a status.
	Polls int
	// Artifacts holds resolved outputs for completed sessions.
	Artifacts []Artifact
	// Failures lists outputs that could not be resolved.
	Failures []ArtifactFailure
	// ErrorKind classifies the failure for failed sessions.
	ErrorKind ErrorKind
	// Error is the human-readable failure or cancellation detail.
	Error string
	// CreatedAt is when the session started.
	CreatedAt time.Time
	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time
	// SubmittedAt is when the provider accepted the job.
	SubmittedAt time.Time
	// CompletedAt is when the session reached a terminal phase.
	CompletedAt time.Time
}

// NewRecord creates a record in the submitting phase with a generated ID.
func NewRecord(modality Modality, surface string) *Record {
	return NewRecordWithID(id.Generate(), modality, surface)
}

// NewRecordWithID creates a record in the submitting phase with the given ID.
func NewRecordWithID(recordID string, modality Modality, surface string) *Record {
	now := time.Now()
	return &Record{
		ID:        recordID,
		Surface:   surface,
		Modality:  modality,
		Phase:     PhaseSubmitting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to move the record to the given phase.
// Returns ErrInvalidTransition if the transition is not allowed.
func (r *Record) TransitionTo(phase Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(phase)
}

func (r *Record) transitionLocked(phase Phase) error {
	if !canTransition(r.Phase, phase) {
		return ErrInvalidTransition
	}
	r.Phase = phase
	r.UpdatedAt = time.Now()
	if phase.IsTerminal() {
		r.CompletedAt = r.UpdatedAt
	}
	return nil
}

// Submitted attaches the provider handle and moves the record to polling.
func (r *Record) Submitted(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(PhasePolling); err != nil {
		return err
	}
	r.JobID = h.ID
	r.SubmittedAt = h.SubmittedAt
	r.ProviderState = StateQueued
	return nil
}

// Observe records a polled provider state. It is ignored once the record left
// the polling phase.
func (r *Record) Observe(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Phase != PhasePolling {
		return
	}
	r.ProviderState = state
	r.Polls++
	r.UpdatedAt = time.Now()
}

// Complete stores the resolution and moves the record to completed.
func (r *Record) Complete(res Resolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(PhaseCompleted); err != nil {
		return err
	}
	r.Artifacts = append([]Artifact(nil), res.Artifacts...)
	r.Failures = append([]ArtifactFailure(nil), res.Failures...)
	return nil
}

// Fail moves the record to failed with a classified error.
func (r *Record) Fail(kind ErrorKind, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(PhaseFailed); err != nil {
		return err
	}
	r.ErrorKind = kind
	r.Error = detail
	return nil
}

// Cancel moves the record to canceled.
func (r *Record) Cancel(detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(PhaseCanceled); err != nil {
		return err
	}
	r.Error = detail
	return nil
}

// GetPhase returns the current phase (thread-safe).
func (r *Record) GetPhase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Phase
}

// IsTerminal returns true if the record is in a terminal phase.
func (r *Record) IsTerminal() bool {
	return r.GetPhase().IsTerminal()
}

// Clone creates a deep copy of the record for safe reads.
func (r *Record) Clone() *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return &Record{
		ID:            r.ID,
		Surface:       r.Surface,
		Modality:      r.Modality,
		JobID:         r.JobID,
		Phase:         r.Phase,
		ProviderState: r.ProviderState,
		Polls:         r.Polls,
		Artifacts:     append([]Artifact(nil), r.Artifacts...),
		Failures:      append([]ArtifactFailure(nil), r.Failures...),
		ErrorKind:     r.ErrorKind,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		SubmittedAt:   r.SubmittedAt,
		CompletedAt:   r.CompletedAt,
	}
}
