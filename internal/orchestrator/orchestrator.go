// Package orchestrator is the entry point for generation requests. It composes
// submission, polling and resolution into sessions that deliver exactly one
// terminal outcome, and keeps at most one outstanding session per UI surface.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/invidias-codem/ai-saas/internal/generator"
	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/poller"
)

// ErrSessionNotFound is returned when no live session matches an ID.
var ErrSessionNotFound = errors.New("orchestrator: session not found")

// upstreamCancelTimeout bounds the best-effort provider cancel call.
const upstreamCancelTimeout = 10 * time.Second

// StatusPoller drives a submitted job to a terminal poller phase.
type StatusPoller interface {
	Poll(ctx context.Context, h job.Handle, policy poller.Policy, onProgress func(job.Status)) poller.Machine
}

// Resolver turns raw output into artifacts.
type Resolver interface {
	Resolve(ctx context.Context, raw job.RawOutput) (job.Resolution, error)
}

// Recorder receives session metrics.
type Recorder interface {
	SessionStarted(modality job.Modality)
	SessionFinished(modality job.Modality, outcome string, kind job.ErrorKind, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(job.Modality)                                      {}
func (nopRecorder) SessionFinished(job.Modality, string, job.ErrorKind, time.Duration) {}

// Orchestrator starts and tracks sessions.
type Orchestrator struct {
	gen            generator.Generator
	poller         StatusPoller
	resolver       Resolver
	repo           job.Repository
	policies       poller.Policies
	logger         *slog.Logger
	recorder       Recorder
	cancelUpstream bool

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	sessions  map[string]*Session
	bySurface map[string]*Session
	byJob     map[string]*Session
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRepository stores session snapshots in repo.
func WithRepository(repo job.Repository) Option {
	return func(o *Orchestrator) {
		o.repo = repo
	}
}

// WithPolicies sets the polling policy per modality.
func WithPolicies(ps poller.Policies) Option {
	return func(o *Orchestrator) {
		o.policies = ps
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithRecorder reports session metrics to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithCancelUpstream makes local cancellation also ask the provider to stop
// the job, when the generator supports it.
func WithCancelUpstream(enabled bool) Option {
	return func(o *Orchestrator) {
		o.cancelUpstream = enabled
	}
}

// New creates an Orchestrator.
func New(gen generator.Generator, p StatusPoller, r Resolver, opts ...Option) *Orchestrator {
	base, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		gen:       gen,
		poller:    p,
		resolver:  r,
		repo:      job.NewMemoryRepository(),
		policies:  poller.DefaultPolicies(),
		logger:    slog.Default(),
		recorder:  nopRecorder{},
		base:      base,
		stop:      stop,
		sessions:  make(map[string]*Session),
		bySurface: make(map[string]*Session),
		byJob:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Repository returns the read model the orchestrator writes to.
func (o *Orchestrator) Repository() job.Repository {
	return o.repo
}

// Start begins a session for req on surface. It never fails: every error is
// delivered as the session's Failed outcome. An outstanding session on the same
// surface is canceled before Start returns. An empty surface gives the session
// a surface of its own.
//
// The session outlives ctx; ctx only scopes the initial record write.
func (o *Orchestrator) Start(ctx context.Context, surface string, req job.Request) *Session {
	var modality job.Modality
	if req != nil {
		modality = req.Modality()
	}

	rec := job.NewRecord(modality, surface)
	sctx, cancel := context.WithCancel(o.base)
	s := newSession(rec.ID, surface, modality, cancel)
	s.onCancel = func(s *Session) { o.canceled(s, rec) }

	log := o.logger.With(
		slog.String("session_id", s.ID),
		slog.String("modality", string(modality)),
	)
	if surface != "" {
		log = log.With(slog.String("surface", surface))
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.recorder.SessionStarted(modality)
		o.finish(ctx, s, rec, Failed(job.KindTransport, "orchestrator is shut down"), log)
		return s
	}
	var prev *Session
	if surface != "" {
		prev = o.bySurface[surface]
		o.bySurface[surface] = s
	}
	o.sessions[s.ID] = s
	o.wg.Add(1)
	o.mu.Unlock()

	if prev != nil {
		if prev.cancelWith("superseded by a newer request on the same surface") {
			log.Info("canceled previous session on surface", slog.String("previous_session_id", prev.ID))
		}
	}

	o.save(ctx, rec)
	o.recorder.SessionStarted(modality)
	log.Info("session started")

	go func() {
		defer o.wg.Done()
		o.run(sctx, s, rec, req, log)
	}()

	return s
}

// run executes the session pipeline. Every exit path ends the session.
func (o *Orchestrator) run(ctx context.Context, s *Session, rec *job.Record, req job.Request, log *slog.Logger) {
	h, err := o.gen.Submit(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("submit failed", slog.String("kind", string(job.KindOf(err))), slog.String("error", err.Error()))
		o.finish(ctx, s, rec, Failed(job.KindOf(err), job.DetailOf(err)), log)
		return
	}

	log = log.With(slog.String("job_id", h.ID))
	if !s.setHandle(h) {
		// Canceled while the submit request was in flight.
		if o.cancelUpstream {
			o.cancelProvider(h, log)
		}
		return
	}
	o.indexJob(s, h.ID)
	if err := rec.Submitted(h); err != nil {
		log.Debug("record already final", slog.String("error", err.Error()))
	}
	o.save(ctx, rec)
	log.Info("job submitted")
	s.publish(Progress{SessionID: s.ID, JobID: h.ID, Phase: job.PhasePolling, State: job.StateQueued, At: time.Now()})

	policy := o.policies.For(h.Modality)
	m := o.poller.Poll(ctx, h, policy, func(st job.Status) {
		rec.Observe(st.State)
		o.save(ctx, rec)
		snap := rec.Clone()
		s.publish(Progress{SessionID: s.ID, JobID: h.ID, Phase: snap.Phase, State: st.State, Polls: snap.Polls, At: st.ObservedAt})
	})

	switch m.Phase {
	case poller.PhaseSucceeded:
		if err := rec.TransitionTo(job.PhaseResolving); err != nil {
			return
		}
		o.save(ctx, rec)
		s.publish(Progress{SessionID: s.ID, JobID: h.ID, Phase: job.PhaseResolving, State: job.StateSucceeded, Polls: m.Polls, At: time.Now()})

		res, err := o.resolver.Resolve(ctx, m.Last.RawOutput)
		if err != nil {
			o.finish(ctx, s, rec, Failed(job.KindOf(err), job.DetailOf(err)), log)
			return
		}
		if res.Partial() {
			log.Warn("partial resolution", slog.Int("artifacts", len(res.Artifacts)), slog.Int("failures", len(res.Failures)))
		}
		o.finish(ctx, s, rec, Completed(res), log)
	case poller.PhaseCanceled:
		if ctx.Err() != nil {
			return
		}
		o.finish(ctx, s, rec, Canceled(m.Detail), log)
	default:
		o.finish(ctx, s, rec, Failed(job.KindOf(m.Err), m.Detail), log)
	}
}

// finish ends the session with a delivered outcome and updates the read model.
func (o *Orchestrator) finish(ctx context.Context, s *Session, rec *job.Record, out Outcome, log *slog.Logger) {
	if !s.finish(out) {
		return
	}

	var err error
	switch out.Kind {
	case OutcomeCompleted:
		err = rec.Complete(job.Resolution{Artifacts: out.Artifacts, Failures: out.Failures})
	case OutcomeFailed:
		err = rec.Fail(out.ErrorKind, out.Detail)
	case OutcomeCanceled:
		err = rec.Cancel(out.Detail)
	}
	if err != nil {
		log.Debug("record already final", slog.String("error", err.Error()))
	}
	o.save(context.WithoutCancel(ctx), rec)
	o.forget(s)
	o.recorder.SessionFinished(s.Modality, string(out.Kind), out.ErrorKind, time.Since(s.startedAt))

	switch out.Kind {
	case OutcomeFailed:
		log.Warn("session failed", slog.String("kind", string(out.ErrorKind)), slog.String("detail", out.Detail))
	default:
		log.Info("session finished", slog.String("outcome", string(out.Kind)), slog.Int("artifacts", len(out.Artifacts)))
	}
}

// canceled runs after a local cancel took effect.
func (o *Orchestrator) canceled(s *Session, rec *job.Record) {
	log := o.logger.With(slog.String("session_id", s.ID), slog.String("modality", string(s.Modality)))
	out, _ := s.Outcome()
	if err := rec.Cancel(out.Detail); err != nil {
		log.Debug("record already final", slog.String("error", err.Error()))
	}
	o.save(o.base, rec)
	o.forget(s)
	o.recorder.SessionFinished(s.Modality, string(OutcomeCanceled), "", time.Since(s.startedAt))
	log.Info("session canceled", slog.String("detail", out.Detail))

	if h, ok := s.Handle(); ok && o.cancelUpstream {
		o.cancelProvider(h, log.With(slog.String("job_id", h.ID)))
	}
}

// cancelProvider asks the provider to stop h in the background.
func (o *Orchestrator) cancelProvider(h job.Handle, log *slog.Logger) {
	c, ok := o.gen.(generator.Canceler)
	if !ok {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(o.base), upstreamCancelTimeout)
		defer cancel()
		err := c.CancelUpstream(ctx, h)
		switch {
		case errors.Is(err, generator.ErrCancelUnsupported):
			log.Debug("provider has no cancel endpoint")
			return
		case err != nil:
			log.Warn("upstream cancel failed", slog.String("error", err.Error()))
			return
		}
		log.Info("upstream job canceled")
	}()
}

// Cancel cancels the live session with the given session ID or provider job ID.
func (o *Orchestrator) Cancel(id string) error {
	s, ok := o.Get(id)
	if !ok || !s.Cancel() {
		return ErrSessionNotFound
	}
	return nil
}

// Get returns the live session with the given session ID or provider job ID.
func (o *Orchestrator) Get(id string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[id]; ok {
		return s, true
	}
	s, ok := o.byJob[id]
	return s, ok
}

// Active returns the number of live sessions.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Close cancels every live session and waits for their goroutines to exit.
// Sessions started afterwards fail immediately.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	live := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		live = append(live, s)
	}
	o.mu.Unlock()

	for _, s := range live {
		s.cancelWith("orchestrator closed")
	}
	o.wg.Wait()
	o.stop()
}

// Prune removes finished records older than ttl every interval until ctx ends.
func (o *Orchestrator) Prune(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.repo.Prune(ctx, time.Now().Add(-ttl))
			if err != nil {
				o.logger.Error("prune records", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				o.logger.Debug("pruned records", slog.Int("removed", n))
			}
		}
	}
}

func (o *Orchestrator) indexJob(s *Session, jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, live := o.sessions[s.ID]; live {
		o.byJob[jobID] = s
	}
}

// forget drops s from the live indexes.
func (o *Orchestrator) forget(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, s.ID)
	if s.Surface != "" && o.bySurface[s.Surface] == s {
		delete(o.bySurface, s.Surface)
	}
	if h, ok := s.Handle(); ok && o.byJob[h.ID] == s {
		delete(o.byJob, h.ID)
	}
}

func (o *Orchestrator) save(ctx context.Context, rec *job.Record) {
	if err := o.repo.Save(ctx, rec); err != nil {
		o.logger.Error("save record", slog.String("session_id", rec.ID), slog.String("error", err.Error()))
	}
}
