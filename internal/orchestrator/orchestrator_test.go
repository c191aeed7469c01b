package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/poller"
	"github.com/invidias-codem/ai-saas/internal/resolver"
)

type reply struct {
	status job.Status
	err    error
}

func running() reply { return reply{status: job.Status{State: job.StateRunning}} }

func succeeded(uris ...string) reply {
	var out job.RawOutput
	for _, u := range uris {
		out.Items = append(out.Items, job.OutputItem{URI: u})
	}
	return reply{status: job.Status{State: job.StateSucceeded, RawOutput: out}}
}

// fakeGenerator validates like the real adapters and replays scripted statuses.
type fakeGenerator struct {
	mu         sync.Mutex
	submitErr  error
	replies    []reply
	submits    int
	polls      int
	canceled   []string
	submitGate chan struct{}
}

func (g *fakeGenerator) Submit(ctx context.Context, req job.Request) (job.Handle, error) {
	if _, err := job.Normalize(req); err != nil {
		return job.Handle{}, err
	}
	if g.submitGate != nil {
		select {
		case <-g.submitGate:
		case <-ctx.Done():
			return job.Handle{}, job.NewError(job.KindTransport, "submit", ctx.Err())
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return job.Handle{}, g.submitErr
	}
	g.submits++
	return job.Handle{ID: "job-" + string(rune('0'+g.submits)), Modality: req.Modality(), SubmittedAt: time.Now()}, nil
}

func (g *fakeGenerator) Status(context.Context, job.Handle) (job.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.polls
	g.polls++
	if len(g.replies) == 0 {
		return job.Status{State: job.StateRunning, ObservedAt: time.Now()}, nil
	}
	if i >= len(g.replies) {
		i = len(g.replies) - 1
	}
	r := g.replies[i]
	r.status.ObservedAt = time.Now()
	return r.status, r.err
}

func (g *fakeGenerator) CancelUpstream(_ context.Context, h job.Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, h.ID)
	return nil
}

func (g *fakeGenerator) Polls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls
}

func (g *fakeGenerator) Canceled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.canceled...)
}

type recorder struct {
	mu       sync.Mutex
	started  int
	outcomes []string
}

func (r *recorder) SessionStarted(job.Modality) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *recorder) SessionFinished(_ job.Modality, outcome string, _ job.ErrorKind, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func fastPolicies(timeout time.Duration) poller.Policies {
	ps := poller.Policies{}
	for _, m := range job.Modalities {
		ps[m] = poller.Policy{Interval: 2 * time.Millisecond, Timeout: timeout, MaxTransientFailures: 3}
	}
	return ps
}

func newTestOrchestrator(t *testing.T, gen *fakeGenerator, opts ...Option) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := poller.New(gen, poller.WithLogger(logger))
	r := resolver.New(resolver.WithLogger(logger))
	base := []Option{WithLogger(logger), WithPolicies(fastPolicies(2 * time.Second))}
	o := New(gen, p, r, append(base, opts...)...)
	t.Cleanup(o.Close)
	return o
}

// collect drains a session's events until the stream closes.
func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

func terminalEvents(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if e.IsTerminal() {
			out = append(out, e)
		}
	}
	return out
}

func waitOutcome(t *testing.T, s *Session) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	o, err := s.Wait(ctx)
	require.NoError(t, err)
	return o
}

func TestStart_Completed(t *testing.T) {
	gen := &fakeGenerator{replies: []reply{running(), running(), succeeded("https://x/a.png", "https://x/b.png")}}
	rec := &recorder{}
	o := newTestOrchestrator(t, gen, WithRecorder(rec))

	s := o.Start(context.Background(), "image-page", job.ImageRequest{Prompt: "a cat", Amount: 2})
	events := collect(t, s.Events())

	terminal := terminalEvents(events)
	require.Len(t, terminal, 1)
	assert.Equal(t, EventKind(OutcomeCompleted), terminal[0].Kind)
	assert.True(t, events[len(events)-1].IsTerminal(), "terminal event comes last")
	assert.Len(t, terminal[0].Outcome.Artifacts, 2)

	var progress int
	for _, e := range events {
		if e.Kind == EventProgress {
			progress++
		}
	}
	assert.GreaterOrEqual(t, progress, 3)

	out, ok := s.Outcome()
	require.True(t, ok)
	assert.Equal(t, OutcomeCompleted, out.Kind)

	h, ok := s.Handle()
	require.True(t, ok)
	assert.Equal(t, "job-1", h.ID)

	stored, err := o.Repository().FindByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, job.PhaseCompleted, stored.Phase)
	assert.Equal(t, "job-1", stored.JobID)
	assert.Len(t, stored.Artifacts, 2)
	assert.Equal(t, 0, o.Active())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, []string{"completed"}, rec.outcomes)
}

func TestStart_PartialSuccess(t *testing.T) {
	gen := &fakeGenerator{replies: []reply{succeeded("https://x/a.png", "ftp://x/b.png")}}
	o := newTestOrchestrator(t, gen)

	out := waitOutcome(t, o.Start(context.Background(), "", job.ImageRequest{Prompt: "two cats", Amount: 2}))

	assert.Equal(t, OutcomeCompleted, out.Kind)
	require.Len(t, out.Artifacts, 1)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, 1, out.Failures[0].Index)
	assert.Equal(t, job.KindUnresolvableOutput, out.Failures[0].Kind)
}

func TestStart_Failures(t *testing.T) {
	tests := []struct {
		name     string
		gen      *fakeGenerator
		req      job.Request
		timeout  time.Duration
		wantKind job.ErrorKind
	}{
		{
			name:     "validation",
			gen:      &fakeGenerator{},
			req:      job.ImageRequest{Prompt: "  "},
			wantKind: job.KindValidation,
		},
		{
			name:     "nil request",
			gen:      &fakeGenerator{},
			req:      nil,
			wantKind: job.KindValidation,
		},
		{
			name:     "provider rejected",
			gen:      &fakeGenerator{submitErr: job.Errorf(job.KindProviderRejected, "NSFW prompt")},
			req:      job.MusicRequest{Prompt: "x"},
			wantKind: job.KindProviderRejected,
		},
		{
			name:     "provider failed",
			gen:      &fakeGenerator{replies: []reply{running(), {status: job.Status{State: job.StateFailed, ErrorDetail: "GPU OOM"}}}},
			req:      job.MusicRequest{Prompt: "x"},
			wantKind: job.KindProviderFailed,
		},
		{
			name:     "unresolvable output",
			gen:      &fakeGenerator{replies: []reply{succeeded()}},
			req:      job.MusicRequest{Prompt: "x"},
			wantKind: job.KindUnresolvableOutput,
		},
		{
			name:     "polling exhausted",
			gen:      &fakeGenerator{replies: []reply{{err: job.NewError(job.KindTransport, "status", errors.New("reset"))}}},
			req:      job.MusicRequest{Prompt: "x"},
			wantKind: job.KindPollingExhausted,
		},
		{
			name:     "timed out",
			gen:      &fakeGenerator{replies: []reply{running()}},
			req:      job.MusicRequest{Prompt: "x"},
			timeout:  40 * time.Millisecond,
			wantKind: job.KindTimedOut,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.timeout > 0 {
				opts = append(opts, WithPolicies(fastPolicies(tt.timeout)))
			}
			o := newTestOrchestrator(t, tt.gen, opts...)

			s := o.Start(context.Background(), "", tt.req)
			events := collect(t, s.Events())

			terminal := terminalEvents(events)
			require.Len(t, terminal, 1)
			assert.Equal(t, EventKind(OutcomeFailed), terminal[0].Kind)
			assert.Equal(t, tt.wantKind, terminal[0].Outcome.ErrorKind)
			assert.NotEmpty(t, terminal[0].Outcome.Detail)

			stored, err := o.Repository().FindByID(context.Background(), s.ID)
			require.NoError(t, err)
			assert.Equal(t, job.PhaseFailed, stored.Phase)
			assert.Equal(t, tt.wantKind, stored.ErrorKind)
		})
	}
}

func TestStart_TimedOutStopsPolling(t *testing.T) {
	gen := &fakeGenerator{replies: []reply{running()}}
	o := newTestOrchestrator(t, gen, WithPolicies(fastPolicies(30*time.Millisecond)))

	out := waitOutcome(t, o.Start(context.Background(), "", job.VideoRequest{Prompt: "waves"}))
	require.Equal(t, job.KindTimedOut, out.ErrorKind)

	polls := gen.Polls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, polls, gen.Polls())
}

func TestStart_PollingExhaustedWithoutFourthPoll(t *testing.T) {
	gen := &fakeGenerator{replies: []reply{{err: job.NewError(job.KindTransport, "status", errors.New("reset"))}}}
	o := newTestOrchestrator(t, gen)

	out := waitOutcome(t, o.Start(context.Background(), "", job.ImageRequest{Prompt: "cat"}))
	assert.Equal(t, job.KindPollingExhausted, out.ErrorKind)
	assert.Equal(t, 3, gen.Polls())
}

func TestStart_ProviderCanceled(t *testing.T) {
	gen := &fakeGenerator{replies: []reply{{status: job.Status{State: job.StateCanceled}}}}
	o := newTestOrchestrator(t, gen)

	s := o.Start(context.Background(), "", job.ImageRequest{Prompt: "cat"})
	terminal := terminalEvents(collect(t, s.Events()))

	require.Len(t, terminal, 1)
	assert.Equal(t, EventKind(OutcomeCanceled), terminal[0].Kind)
	assert.Equal(t, "canceled by provider", terminal[0].Outcome.Detail)
}

func TestCancel_NoEventsAfterCancel(t *testing.T) {
	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, gen)

	s := o.Start(context.Background(), "video-page", job.VideoRequest{Prompt: "waves"})

	// Wait for a poll so the cancel lands between ticks.
	first := <-s.Events()
	require.Equal(t, EventProgress, first.Kind)
	require.Eventually(t, func() bool { return gen.Polls() > 0 }, time.Second, time.Millisecond)

	require.True(t, s.Cancel())

	for e := range s.Events() {
		assert.Equal(t, EventProgress, e.Kind, "only progress buffered before cancel may remain")
	}
	out, ok := s.Outcome()
	require.True(t, ok)
	assert.Equal(t, OutcomeCanceled, out.Kind)
	assert.True(t, out.Local)

	assert.False(t, s.Cancel())
	assert.ErrorIs(t, o.Cancel(s.ID), ErrSessionNotFound)

	stored, err := o.Repository().FindByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, job.PhaseCanceled, stored.Phase)
}

func TestCancel_NothingDeliveredAfterCancelReturns(t *testing.T) {
	gen := &fakeGenerator{replies: []reply{running(), running(), succeeded("https://x/a.png")}}
	o := newTestOrchestrator(t, gen)

	s := o.Start(context.Background(), "", job.ImageRequest{Prompt: "cat"})
	sub, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.Eventually(t, func() bool { return gen.Polls() >= 1 }, time.Second, time.Millisecond)
	s.Cancel()

	// Drain what was buffered before the cancel, then make sure the stream is closed.
	for e := range sub {
		assert.False(t, e.IsTerminal())
	}
	time.Sleep(20 * time.Millisecond)
	_, open := <-sub
	assert.False(t, open)
}

func TestCancel_ByJobID(t *testing.T) {
	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, gen)

	s := o.Start(context.Background(), "", job.MusicRequest{Prompt: "lofi"})
	require.Eventually(t, func() bool { _, ok := s.Handle(); return ok }, time.Second, time.Millisecond)
	h, _ := s.Handle()

	got, ok := o.Get(h.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	require.NoError(t, o.Cancel(h.ID))
	<-s.Done()
	assert.ErrorIs(t, o.Cancel("unknown"), ErrSessionNotFound)
}

func TestCancel_DuringSubmit(t *testing.T) {
	gen := &fakeGenerator{submitGate: make(chan struct{})}
	o := newTestOrchestrator(t, gen)

	s := o.Start(context.Background(), "", job.MusicRequest{Prompt: "lofi"})
	require.True(t, s.Cancel())
	close(gen.submitGate)

	assert.Empty(t, collect(t, s.Events()))
	_, ok := s.Handle()
	assert.False(t, ok)
}

func TestCancel_Upstream(t *testing.T) {
	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, gen, WithCancelUpstream(true))

	s := o.Start(context.Background(), "", job.MusicRequest{Prompt: "lofi"})
	require.Eventually(t, func() bool { _, ok := s.Handle(); return ok }, time.Second, time.Millisecond)
	s.Cancel()

	require.Eventually(t, func() bool { return len(gen.Canceled()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"job-1"}, gen.Canceled())
}

func TestCancel_UpstreamDisabledByDefault(t *testing.T) {
	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, gen)

	s := o.Start(context.Background(), "", job.MusicRequest{Prompt: "lofi"})
	require.Eventually(t, func() bool { _, ok := s.Handle(); return ok }, time.Second, time.Millisecond)
	s.Cancel()
	o.Close()

	assert.Empty(t, gen.Canceled())
}

func TestStart_SameSurfaceCancelsPrevious(t *testing.T) {
	gen := &fakeGenerator{replies: []reply{running(), running(), running(), succeeded("https://x/a.png")}}
	o := newTestOrchestrator(t, gen)

	a := o.Start(context.Background(), "image-page", job.ImageRequest{Prompt: "first"})
	b := o.Start(context.Background(), "image-page", job.ImageRequest{Prompt: "second"})

	select {
	case <-a.Done():
	default:
		t.Fatal("previous session must be canceled before Start returns")
	}
	out, _ := a.Outcome()
	assert.Equal(t, OutcomeCanceled, out.Kind)
	assert.Contains(t, out.Detail, "superseded")
	assert.Empty(t, terminalEvents(collect(t, a.Events())))

	assert.Len(t, terminalEvents(collect(t, b.Events())), 1)
}

func TestStart_PrivateSurfacesAreIndependent(t *testing.T) {
	gen := &fakeGenerator{replies: []reply{running(), succeeded("https://x/a.png")}}
	o := newTestOrchestrator(t, gen)

	a := o.Start(context.Background(), "", job.ImageRequest{Prompt: "first"})
	b := o.Start(context.Background(), "", job.MusicRequest{Prompt: "second"})

	assert.Equal(t, OutcomeCompleted, waitOutcome(t, a).Kind)
	assert.Equal(t, OutcomeCompleted, waitOutcome(t, b).Kind)
}

func TestSubscribe_AfterFinish(t *testing.T) {
	gen := &fakeGenerator{replies: []reply{succeeded("https://x/a.png")}}
	o := newTestOrchestrator(t, gen)

	s := o.Start(context.Background(), "", job.ImageRequest{Prompt: "cat"})
	waitOutcome(t, s)

	sub, unsubscribe := s.Subscribe()
	defer unsubscribe()
	events := collect(t, sub)
	require.Len(t, events, 1)
	assert.Equal(t, EventKind(OutcomeCompleted), events[0].Kind)
}

func TestClose(t *testing.T) {
	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, gen)

	a := o.Start(context.Background(), "a", job.ImageRequest{Prompt: "cat"})
	b := o.Start(context.Background(), "b", job.VideoRequest{Prompt: "dog"})
	o.Close()

	for _, s := range []*Session{a, b} {
		out, ok := s.Outcome()
		require.True(t, ok)
		assert.Equal(t, OutcomeCanceled, out.Kind)
	}
	assert.Equal(t, 0, o.Active())

	late := o.Start(context.Background(), "a", job.ImageRequest{Prompt: "cat"})
	out := waitOutcome(t, late)
	assert.Equal(t, OutcomeFailed, out.Kind)
}

func TestWait_ContextDone(t *testing.T) {
	gen := &fakeGenerator{}
	o := newTestOrchestrator(t, gen)

	s := o.Start(context.Background(), "", job.ImageRequest{Prompt: "cat"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
