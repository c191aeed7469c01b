package generator

import (
	"context"
	"errors"
	"mime"
	"net/url"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/replicate"
)

// Default Replicate models.
const (
	DefaultImageModel = "stability-ai/stable-diffusion-3"
	DefaultMusicModel = "riffusion/riffusion:8cf61ea6c56afd61d8f5b9ffd14d7c216c0a93844ce2d82ac1c9ecc9c7f24e05"
)

// Image generation input tuning.
const (
	imageOutputQuality  = 79
	imageNegativePrompt = "ugly, distorted"
)

// ReplicateAdapter adapts the Replicate client to the Generator interface. It
// serves image and music requests.
type ReplicateAdapter struct {
	client     replicate.Client
	imageModel string
	musicModel string
	now        func() time.Time
}

// ReplicateOption configures a ReplicateAdapter.
type ReplicateOption func(*ReplicateAdapter)

// WithImageModel overrides the image model reference.
func WithImageModel(model string) ReplicateOption {
	return func(a *ReplicateAdapter) {
		if model != "" {
			a.imageModel = model
		}
	}
}

// WithMusicModel overrides the music model reference.
func WithMusicModel(model string) ReplicateOption {
	return func(a *ReplicateAdapter) {
		if model != "" {
			a.musicModel = model
		}
	}
}

// NewReplicateAdapter creates a new Replicate generator adapter.
func NewReplicateAdapter(client replicate.Client, opts ...ReplicateOption) *ReplicateAdapter {
	a := &ReplicateAdapter{
		client:     client,
		imageModel: DefaultImageModel,
		musicModel: DefaultMusicModel,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Submit creates a Replicate prediction for an image or music request.
func (a *ReplicateAdapter) Submit(ctx context.Context, req job.Request) (h job.Handle, err error) {
	normalized, err := job.Normalize(req)
	if err != nil {
		return job.Handle{}, err
	}

	var (
		model string
		input map[string]any
	)
	switch r := normalized.(type) {
	case job.ImageRequest:
		width, height := r.Dimensions()
		model = a.imageModel
		input = map[string]any{
			"prompt":          r.Prompt,
			"num_outputs":     r.Amount,
			"width":           width,
			"height":          height,
			"output_quality":  imageOutputQuality,
			"negative_prompt": imageNegativePrompt,
		}
	case job.MusicRequest:
		model = a.musicModel
		input = map[string]any{"prompt_a": r.Prompt}
	default:
		return job.Handle{}, unsupported("replicate", req)
	}

	ctx, span := startSpan(ctx, "replicate.submit", normalized.Modality(), attribute.String("replicate.model", model))
	defer func() { endSpan(span, err) }()

	p, err := a.client.CreatePrediction(ctx, model, input)
	if err != nil {
		return job.Handle{}, classify("replicate submit", err, replicateRejected(err))
	}

	span.SetAttributes(attribute.String("generation.job_id", p.ID))
	return job.Handle{ID: p.ID, Modality: normalized.Modality(), SubmittedAt: a.now()}, nil
}

// Status fetches a prediction and maps its status.
func (a *ReplicateAdapter) Status(ctx context.Context, h job.Handle) (st job.Status, err error) {
	ctx, span := startSpan(ctx, "replicate.status", h.Modality, attribute.String("generation.job_id", h.ID))
	defer func() { endSpan(span, err) }()

	p, err := a.client.GetPrediction(ctx, h.ID)
	if err != nil {
		return job.Status{}, classify("replicate status", err, replicateRejected(err))
	}

	st = job.Status{ObservedAt: a.now()}
	switch p.Status {
	case replicate.StatusStarting:
		st.State = job.StateQueued
	case replicate.StatusSucceeded:
		st.State = job.StateSucceeded
		st.RawOutput = a.rawOutput(h.Modality, p)
	case replicate.StatusFailed:
		st.State = job.StateFailed
		st.ErrorDetail = orDefault(p.Error, "prediction failed")
	case replicate.StatusCanceled:
		st.State = job.StateCanceled
		st.ErrorDetail = orDefault(p.Error, "prediction canceled by provider")
	default:
		// processing and any status Replicate adds later.
		st.State = job.StateRunning
	}
	span.SetAttributes(attribute.String("generation.state", string(st.State)))
	return st, nil
}

// CancelUpstream cancels the prediction on Replicate.
func (a *ReplicateAdapter) CancelUpstream(ctx context.Context, h job.Handle) (err error) {
	ctx, span := startSpan(ctx, "replicate.cancel", h.Modality, attribute.String("generation.job_id", h.ID))
	defer func() { endSpan(span, err) }()

	if err := a.client.CancelPrediction(ctx, h.ID); err != nil {
		return classify("replicate cancel", err, replicateRejected(err))
	}
	return nil
}

// rawOutput converts prediction output into provider-neutral items. An
// unrecognized output shape yields no items.
func (a *ReplicateAdapter) rawOutput(m job.Modality, p replicate.Prediction) job.RawOutput {
	var preferred []string
	if m == job.ModalityMusic {
		preferred = []string{"audio"}
	}
	urls, err := p.OutputURLs(preferred...)
	if err != nil {
		return job.RawOutput{}
	}
	items := make([]job.OutputItem, 0, len(urls))
	for _, u := range urls {
		items = append(items, job.OutputItem{URI: u, MIMEType: mimeFromURL(u)})
	}
	return job.RawOutput{Items: items}
}

// replicateRejected reports whether Replicate refused the request outright.
func replicateRejected(err error) bool {
	return errors.Is(err, replicate.ErrRequestFailed) ||
		errors.Is(err, replicate.ErrModelRequired) ||
		errors.Is(err, replicate.ErrNoPredictionID) ||
		errors.Is(err, replicate.ErrPredictionIDRequired)
}

func mimeFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return mime.TypeByExtension(path.Ext(u.Path))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Compile-time checks that ReplicateAdapter implements Generator and Canceler.
var (
	_ Generator = (*ReplicateAdapter)(nil)
	_ Canceler  = (*ReplicateAdapter)(nil)
)
