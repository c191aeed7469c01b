package poller

import (
	"context"
	"errors"
	"sync"

	"github.com/invidias-codem/ai-saas/internal/job"
)

type response struct {
	status job.Status
	err    error
}

func running() response   { return response{status: job.Status{State: job.StateRunning}} }
func queued() response    { return response{status: job.Status{State: job.StateQueued}} }
func transient() response { return response{err: job.NewError(job.KindTransport, "status", errors.New("connection reset"))} }
func succeeded(uris ...string) response {
	items := make([]job.OutputItem, 0, len(uris))
	for _, u := range uris {
		items = append(items, job.OutputItem{URI: u})
	}
	return response{status: job.Status{State: job.StateSucceeded, RawOutput: job.RawOutput{Items: items}}}
}

// scriptedSource replays responses in order and repeats the last one.
type scriptedSource struct {
	mu        sync.Mutex
	responses []response
	calls     int
	// gate, when set, blocks each call until a value is received.
	gate chan struct{}
	// entered receives a value when a call starts.
	entered chan struct{}
}

func newScriptedSource(responses ...response) *scriptedSource {
	return &scriptedSource{responses: responses}
}

func (s *scriptedSource) Status(ctx context.Context, _ job.Handle) (job.Status, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if len(s.responses) == 0 {
		return job.Status{State: job.StateRunning}, nil
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	r := s.responses[i]
	return r.status, r.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingObserver struct {
	mu      sync.Mutex
	results map[string]int
}

func (o *countingObserver) ObservePoll(_ job.Modality, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string]int)
	}
	o.results[result]++
}

func (o *countingObserver) Count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.results[result]
}
