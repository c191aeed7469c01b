// Package generator provides Job Submission Adapters: one per provider, each
// turning a modality request into exactly one provider job and normalizing the
// provider's status vocabulary into job.State. Provider field names never leave
// this package.
package generator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/invidias-codem/ai-saas/internal/job"
)

// Generator submits generation jobs to a provider and reports their status.
//
// Submit never retries once a provider job exists, so a successful call maps to
// exactly one provider job. Status performs a single request; errors of kind
// job.KindTransport are transient and may be retried by the caller, any other
// kind is permanent.
type Generator interface {
	// Submit validates req and creates a provider job.
	Submit(ctx context.Context, req job.Request) (job.Handle, error)

	// Status fetches the current normalized state of a job.
	Status(ctx context.Context, h job.Handle) (job.Status, error)
}

// Canceler is implemented by generators whose provider can stop a running job.
type Canceler interface {
	// CancelUpstream asks the provider to stop the job. It is best effort.
	CancelUpstream(ctx context.Context, h job.Handle) error
}

// ErrCancelUnsupported is returned when the provider has no cancel operation.
var ErrCancelUnsupported = errors.New("generator: upstream cancel not supported")

var tracer = otel.Tracer("github.com/invidias-codem/ai-saas/internal/generator")

// startSpan opens a span for one provider call.
func startSpan(ctx context.Context, name string, modality job.Modality, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("generation.modality", string(modality)))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on the span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// classify wraps a provider client error into the job error taxonomy.
// Rejected errors are permanent, everything else is treated as transport.
func classify(op string, err error, rejected bool) error {
	var classified *job.Error
	if errors.As(err, &classified) {
		return err
	}
	kind := job.KindTransport
	if rejected {
		kind = job.KindProviderRejected
	}
	return job.NewError(kind, op, err)
}

// unsupported reports a request type the adapter cannot serve.
func unsupported(adapter string, req job.Request) error {
	return job.Errorf(job.KindValidation, "%s does not support %s requests", adapter, modalityOf(req))
}

func modalityOf(req job.Request) string {
	if req == nil {
		return "nil"
	}
	return fmt.Sprint(req.Modality())
}
