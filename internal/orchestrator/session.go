package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/invidias-codem/ai-saas/internal/job"
)

// OutcomeKind is the terminal result of a session.
type OutcomeKind string

// Terminal outcomes.
const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeCanceled  OutcomeKind = "canceled"
)

// Outcome is the single terminal result of a session.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// Artifacts and Failures are set for completed sessions.
	Artifacts []job.Artifact        `json:"artifacts,omitempty"`
	Failures  []job.ArtifactFailure `json:"failures,omitempty"`
	// ErrorKind is set for failed sessions.
	ErrorKind job.ErrorKind `json:"error_kind,omitempty"`
	// Detail is a human-readable explanation for failed and canceled sessions.
	Detail string `json:"detail,omitempty"`
	// Local is true when the caller canceled the session. Local cancellations
	// are never delivered as events.
	Local bool `json:"-"`
}

// Completed builds a completed outcome.
func Completed(res job.Resolution) Outcome {
	return Outcome{Kind: OutcomeCompleted, Artifacts: res.Artifacts, Failures: res.Failures}
}

// Failed builds a failed outcome.
func Failed(kind job.ErrorKind, detail string) Outcome {
	return Outcome{Kind: OutcomeFailed, ErrorKind: kind, Detail: detail}
}

// Canceled builds a canceled outcome.
func Canceled(detail string) Outcome {
	return Outcome{Kind: OutcomeCanceled, Detail: detail}
}

// Progress is a non-terminal update.
type Progress struct {
	SessionID string    `json:"session_id"`
	JobID     string    `json:"job_id,omitempty"`
	Phase     job.Phase `json:"phase"`
	State     job.State `json:"state,omitempty"`
	Polls     int       `json:"polls"`
	At        time.Time `json:"at"`
}

// EventKind names a session event.
type EventKind string

// EventProgress is the kind of non-terminal events. Terminal events use the
// OutcomeKind as their kind.
const EventProgress EventKind = "progress"

// Event is delivered to subscribers: zero or more progress events followed by
// exactly one terminal event, unless the session is canceled locally.
type Event struct {
	Kind     EventKind
	Progress *Progress
	Outcome  *Outcome
}

// IsTerminal returns true for the outcome event.
func (e Event) IsTerminal() bool {
	return e.Outcome != nil
}

// subscriberBuffer is the capacity of each subscriber channel. One slot is
// reserved for the terminal event.
const subscriberBuffer = 32

// Session is one orchestrated generation. All methods are safe for concurrent use.
type Session struct {
	ID       string
	Surface  string
	Modality job.Modality

	startedAt time.Time
	events    <-chan Event

	mu          sync.Mutex
	handle      *job.Handle
	outcome     *Outcome
	subscribers map[chan Event]struct{}
	done        chan struct{}
	cancel      context.CancelFunc
	onCancel    func(*Session)
}

func newSession(id, surface string, modality job.Modality, cancel context.CancelFunc) *Session {
	s := &Session{
		ID:          id,
		Surface:     surface,
		Modality:    modality,
		startedAt:   time.Now(),
		subscribers: make(map[chan Event]struct{}),
		done:        make(chan struct{}),
		cancel:      cancel,
	}
	ch := make(chan Event, subscriberBuffer)
	s.subscribers[ch] = struct{}{}
	s.events = ch
	return s
}

// Events returns the session's primary event stream. It is closed after the
// terminal event, or without one after a local cancel.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Subscribe opens an additional event stream. Subscribing to a finished
// session yields its terminal event, if it has one, and a closed channel.
// The returned function unsubscribes.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != nil {
		if !s.outcome.Local {
			o := *s.outcome
			ch <- Event{Kind: EventKind(o.Kind), Outcome: &o}
		}
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
}

// Done is closed when the session reaches its outcome.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Handle returns the provider job handle once submission succeeded.
func (s *Session) Handle() (job.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return job.Handle{}, false
	}
	return *s.handle, true
}

// Outcome returns the terminal outcome once the session is done.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

// Wait blocks until the session is done or ctx ends.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		o, _ := s.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Cancel stops the session. Once Cancel returns no further event is delivered.
// It returns false if the session had already finished.
func (s *Session) Cancel() bool {
	return s.cancelWith("canceled by caller")
}

func (s *Session) cancelWith(detail string) bool {
	o := Canceled(detail)
	o.Local = true
	if !s.finish(o) {
		return false
	}
	s.mu.Lock()
	hook := s.onCancel
	s.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	return true
}

func (s *Session) setHandle(h job.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != nil {
		return false
	}
	s.handle = &h
	return true
}

// publish delivers a progress event unless the session is finished. Slow
// subscribers miss progress events but never the terminal one.
func (s *Session) publish(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != nil {
		return
	}
	for ch := range s.subscribers {
		if len(ch) < cap(ch)-1 {
			ch <- Event{Kind: EventProgress, Progress: &p}
		}
	}
}

// finish records the outcome once. Non-local outcomes are delivered to every
// subscriber before the streams close.
func (s *Session) finish(o Outcome) bool {
	s.mu.Lock()
	if s.outcome != nil {
		s.mu.Unlock()
		return false
	}
	s.outcome = &o
	for ch := range s.subscribers {
		if !o.Local {
			oc := o
			ch <- Event{Kind: EventKind(o.Kind), Outcome: &oc}
		}
		close(ch)
	}
	s.subscribers = nil
	close(s.done)
	s.mu.Unlock()

	s.cancel()
	return true
}
