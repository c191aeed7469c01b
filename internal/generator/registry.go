package generator

import (
	"context"
	"fmt"

	"github.com/invidias-codem/ai-saas/internal/job"
)

// Registry routes requests to the generator registered for their modality.
type Registry struct {
	generators map[job.Modality]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[job.Modality]Generator)}
}

// Register assigns g to modality m, replacing any previous registration.
func (r *Registry) Register(m job.Modality, g Generator) {
	r.generators[m] = g
}

// Supports reports whether a generator is registered for m.
func (r *Registry) Supports(m job.Modality) bool {
	_, ok := r.generators[m]
	return ok
}

// Modalities returns the registered modalities in canonical order.
func (r *Registry) Modalities() []job.Modality {
	var out []job.Modality
	for _, m := range job.Modalities {
		if r.Supports(m) {
			out = append(out, m)
		}
	}
	return out
}

func (r *Registry) lookup(m job.Modality) (Generator, error) {
	g, ok := r.generators[m]
	if !ok {
		return nil, job.Errorf(job.KindValidation, "no provider configured for %s", m)
	}
	return g, nil
}

// Submit implements Generator.
func (r *Registry) Submit(ctx context.Context, req job.Request) (job.Handle, error) {
	if req == nil {
		return job.Handle{}, job.Errorf(job.KindValidation, "request is required")
	}
	g, err := r.lookup(req.Modality())
	if err != nil {
		return job.Handle{}, err
	}
	return g.Submit(ctx, req)
}

// Status implements Generator.
func (r *Registry) Status(ctx context.Context, h job.Handle) (job.Status, error) {
	g, err := r.lookup(h.Modality)
	if err != nil {
		return job.Status{}, err
	}
	return g.Status(ctx, h)
}

// CancelUpstream implements Canceler. It returns ErrCancelUnsupported when the
// generator for the handle cannot cancel.
func (r *Registry) CancelUpstream(ctx context.Context, h job.Handle) error {
	g, err := r.lookup(h.Modality)
	if err != nil {
		return err
	}
	c, ok := g.(Canceler)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCancelUnsupported, h.Modality)
	}
	return c.CancelUpstream(ctx, h)
}

// Compile-time checks that Registry implements Generator and Canceler.
var (
	_ Generator = (*Registry)(nil)
	_ Canceler  = (*Registry)(nil)
)
