// Package resolver turns the raw output of a succeeded job into consumable
// artifact references. Items resolve independently, so one bad item does not
// discard the others.
package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/storage"
)

// DefaultConcurrency bounds how many items are resolved at once.
const DefaultConcurrency = 4

// Resolver resolves output items into artifacts.
type Resolver struct {
	signer      storage.Signer
	ttl         time.Duration
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSigner sets the signer used for storage references.
func WithSigner(s storage.Signer) Option {
	return func(r *Resolver) {
		r.signer = s
	}
}

// WithTTL sets the validity of signed URLs.
func WithTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithConcurrency sets how many items resolve in parallel.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// New creates a Resolver. Without a signer every storage reference is unresolvable.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		ttl:         storage.DefaultSignedURLTTL,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves every item of raw. It returns a Resolution as long as at
// least one item resolved; failed items are listed in Resolution.Failures.
// When nothing resolves it returns an error: the shared kind when every item
// failed the same way, ErrUnresolvableOutput otherwise.
func (r *Resolver) Resolve(ctx context.Context, raw job.RawOutput) (job.Resolution, error) {
	if raw.Len() == 0 {
		return job.Resolution{}, job.Errorf(job.KindUnresolvableOutput, "job succeeded without output items")
	}

	artifacts := make([]*job.Artifact, raw.Len())
	failures := make([]*job.ArtifactFailure, raw.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, item := range raw.Items {
		g.Go(func() error {
			a, err := r.ResolveItem(gctx, i, item)
			if err != nil {
				failures[i] = &job.ArtifactFailure{Index: i, Kind: job.KindOf(err), Detail: job.DetailOf(err)}
				return nil
			}
			artifacts[i] = &a
			return nil
		})
	}
	_ = g.Wait()

	var res job.Resolution
	for i := range raw.Items {
		if artifacts[i] != nil {
			res.Artifacts = append(res.Artifacts, *artifacts[i])
		}
		if failures[i] != nil {
			res.Failures = append(res.Failures, *failures[i])
			r.logger.Warn("output item unresolvable",
				slog.Int("index", i),
				slog.String("kind", string(failures[i].Kind)),
				slog.String("detail", failures[i].Detail),
			)
		}
	}

	if len(res.Artifacts) == 0 {
		return res, allFailed(res.Failures)
	}
	return res, nil
}

// ResolveItem resolves a single output item.
func (r *Resolver) ResolveItem(ctx context.Context, index int, item job.OutputItem) (job.Artifact, error) {
	if item.URI == "" {
		if item.Data == "" {
			return job.Artifact{}, job.Errorf(job.KindUnresolvableOutput, "item %d has neither URI nor data", index)
		}
		return inlineArtifact(index, item)
	}

	// Object names may hold characters url.Parse rejects or strips.
	if scheme, _, ok := strings.Cut(strings.TrimSpace(item.URI), "://"); ok {
		switch strings.ToLower(scheme) {
		case "gs", "s3":
			return r.signed(ctx, index, item)
		}
	}

	u, err := url.Parse(strings.TrimSpace(item.URI))
	if err != nil {
		return job.Artifact{}, job.NewError(job.KindUnresolvableOutput, fmt.Sprintf("item %d: malformed URI", index), err)
	}

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http", "https":
		if u.Host == "" {
			return job.Artifact{}, job.Errorf(job.KindUnresolvableOutput, "item %d: URL without host", index)
		}
		return job.Artifact{Index: index, Kind: job.ArtifactRemoteURL, Payload: item.URI, MIMEType: item.MIMEType}, nil
	case "data":
		return dataArtifact(index, item)
	default:
		return job.Artifact{}, job.Errorf(job.KindUnresolvableOutput, "item %d: unsupported reference %q", index, redact(item.URI))
	}
}

func (r *Resolver) signed(ctx context.Context, index int, item job.OutputItem) (job.Artifact, error) {
	ref, err := storage.ParseURI(item.URI)
	if err != nil {
		return job.Artifact{}, job.NewError(job.KindUnresolvableOutput, fmt.Sprintf("item %d", index), err)
	}
	if r.signer == nil {
		return job.Artifact{}, job.Errorf(job.KindUnresolvableOutput, "item %d: no signer configured for %s", index, ref.Scheme)
	}

	signed, err := r.signer.SignedURL(ctx, ref, r.ttl)
	if errors.Is(err, storage.ErrNoSigner) {
		return job.Artifact{}, job.NewError(job.KindUnresolvableOutput, fmt.Sprintf("item %d", index), err)
	}
	if err != nil {
		return job.Artifact{}, job.NewError(job.KindTransport, fmt.Sprintf("item %d: sign %s", index, ref), err)
	}

	expires := r.now().Add(r.ttl)
	return job.Artifact{
		Index:     index,
		Kind:      job.ArtifactRemoteURL,
		Payload:   signed,
		MIMEType:  item.MIMEType,
		ExpiresAt: &expires,
	}, nil
}

// dataArtifact accepts a data: URI as is after checking that it carries a payload.
func dataArtifact(index int, item job.OutputItem) (job.Artifact, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(item.URI, "data:"), ",")
	if !ok || payload == "" {
		return job.Artifact{}, job.Errorf(job.KindUnresolvableOutput, "item %d: empty data URI", index)
	}
	mimeType := item.MIMEType
	if mt, _, _ := strings.Cut(header, ";"); mt != "" {
		mimeType = mt
	}
	return job.Artifact{Index: index, Kind: job.ArtifactInlineData, Payload: item.URI, MIMEType: mimeType}, nil
}

// inlineArtifact wraps base64 content into a data: URI.
func inlineArtifact(index int, item job.OutputItem) (job.Artifact, error) {
	data := strings.TrimSpace(item.Data)
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return job.Artifact{}, job.NewError(job.KindUnresolvableOutput, fmt.Sprintf("item %d: invalid base64 data", index), err)
	}
	mimeType := item.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return job.Artifact{
		Index:    index,
		Kind:     job.ArtifactInlineData,
		Payload:  "data:" + mimeType + ";base64," + data,
		MIMEType: mimeType,
	}, nil
}

func allFailed(failures []job.ArtifactFailure) error {
	kind := failures[0].Kind
	for _, f := range failures[1:] {
		if f.Kind != kind {
			kind = job.KindUnresolvableOutput
			break
		}
	}
	if len(failures) == 1 {
		return job.NewError(kind, failures[0].Detail, nil)
	}
	return job.Errorf(kind, "none of %d output items could be resolved; first: %s", len(failures), failures[0].Detail)
}

// redact keeps log lines short for long opaque references.
func redact(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
