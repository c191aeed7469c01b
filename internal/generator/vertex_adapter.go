package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/vertex"
)

// DefaultVideoModel is the Veo model used when none is configured.
const DefaultVideoModel = "veo-3.0-fast-generate-001"

const defaultVideoMIMEType = "video/mp4"

// VertexAdapter adapts the Vertex AI client to the Generator interface. It
// serves video requests.
type VertexAdapter struct {
	client    vertex.Client
	model     string
	outputURI string
	now       func() time.Time
}

// VertexOption configures a VertexAdapter.
type VertexOption func(*VertexAdapter)

// WithVideoModel overrides the Veo model.
func WithVideoModel(model string) VertexOption {
	return func(a *VertexAdapter) {
		if model != "" {
			a.model = model
		}
	}
}

// WithOutputURI asks Vertex to write videos under a gs:// prefix. Without it
// videos come back inline.
func WithOutputURI(uri string) VertexOption {
	return func(a *VertexAdapter) {
		a.outputURI = uri
	}
}

// NewVertexAdapter creates a new Vertex generator adapter.
func NewVertexAdapter(client vertex.Client, opts ...VertexOption) *VertexAdapter {
	a := &VertexAdapter{
		client: client,
		model:  DefaultVideoModel,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Submit starts a Veo long-running prediction. The handle ID is the operation name.
func (a *VertexAdapter) Submit(ctx context.Context, req job.Request) (h job.Handle, err error) {
	normalized, err := job.Normalize(req)
	if err != nil {
		return job.Handle{}, err
	}
	r, ok := normalized.(job.VideoRequest)
	if !ok {
		return job.Handle{}, unsupported("vertex", req)
	}

	ctx, span := startSpan(ctx, "vertex.submit", job.ModalityVideo, attribute.String("vertex.model", a.model))
	defer func() { endSpan(span, err) }()

	op, err := a.client.PredictLongRunning(ctx, a.model, vertex.PredictRequest{
		Instances: []vertex.Instance{{Prompt: r.Prompt}},
		Parameters: vertex.Parameters{
			DurationSeconds: r.DurationSeconds,
			AspectRatio:     r.AspectRatio,
			Resolution:      r.Resolution,
			GenerateAudio:   r.Audio(),
			SampleCount:     1,
			StorageURI:      a.outputURI,
		},
	})
	if err != nil {
		return job.Handle{}, classify("vertex submit", err, vertexRejected(err))
	}

	span.SetAttributes(attribute.String("generation.job_id", op.Name))
	return job.Handle{ID: op.Name, Modality: job.ModalityVideo, SubmittedAt: a.now()}, nil
}

// Status fetches the operation and maps it. Vertex has no queued state, so an
// unfinished operation is always running.
func (a *VertexAdapter) Status(ctx context.Context, h job.Handle) (st job.Status, err error) {
	ctx, span := startSpan(ctx, "vertex.status", h.Modality, attribute.String("generation.job_id", h.ID))
	defer func() { endSpan(span, err) }()

	op, err := a.client.FetchOperation(ctx, h.ID)
	if err != nil {
		return job.Status{}, classify("vertex status", err, vertexRejected(err))
	}

	st = job.Status{ObservedAt: a.now()}
	switch {
	case !op.Done:
		st.State = job.StateRunning
	case op.Error != nil && op.Error.Code == vertex.CodeCancelled:
		st.State = job.StateCanceled
		st.ErrorDetail = orDefault(op.Error.Message, "operation canceled by provider")
	case op.Error != nil:
		st.State = job.StateFailed
		st.ErrorDetail = orDefault(op.Error.Message, fmt.Sprintf("operation failed with code %d", op.Error.Code))
	case op.Response != nil && len(op.Response.Videos) == 0 && op.Response.RAIMediaFilteredCount > 0:
		st.State = job.StateFailed
		st.ErrorDetail = filteredDetail(op.Response)
	default:
		st.State = job.StateSucceeded
		st.RawOutput = videoOutput(op.Response)
	}
	span.SetAttributes(attribute.String("generation.state", string(st.State)))
	return st, nil
}

func videoOutput(resp *vertex.OperationResponse) job.RawOutput {
	if resp == nil {
		return job.RawOutput{}
	}
	items := make([]job.OutputItem, 0, len(resp.Videos))
	for _, v := range resp.Videos {
		item := job.OutputItem{MIMEType: orDefault(v.MIMEType, defaultVideoMIMEType)}
		if v.URI != "" {
			item.URI = v.URI
		} else {
			item.Data = v.BytesBase64
		}
		items = append(items, item)
	}
	return job.RawOutput{Items: items}
}

func filteredDetail(resp *vertex.OperationResponse) string {
	if len(resp.RAIMediaFilteredReasons) == 0 {
		return "video removed by safety filters"
	}
	return "video removed by safety filters: " + strings.Join(resp.RAIMediaFilteredReasons, "; ")
}

// vertexRejected reports whether Vertex refused the request outright.
func vertexRejected(err error) bool {
	return errors.Is(err, vertex.ErrRequestFailed) ||
		errors.Is(err, vertex.ErrModelRequired) ||
		errors.Is(err, vertex.ErrNoOperationName) ||
		errors.Is(err, vertex.ErrOperationNameRequired)
}

// Compile-time check that VertexAdapter implements Generator.
var _ Generator = (*VertexAdapter)(nil)
