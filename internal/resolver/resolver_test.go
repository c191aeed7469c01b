package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/storage"
)

type fakeSigner struct {
	calls atomic.Int32
	err   error
}

func (s *fakeSigner) SignedURL(_ context.Context, ref storage.Ref, ttl time.Duration) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return "https://signed.example/" + ref.Bucket + "/" + ref.Key + "?ttl=" + ttl.String(), nil
}

func newTestResolver(opts ...Option) *Resolver {
	return New(append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)...)
}

func items(uris ...string) job.RawOutput {
	out := job.RawOutput{}
	for _, u := range uris {
		out.Items = append(out.Items, job.OutputItem{URI: u})
	}
	return out
}

func TestResolveItem_RemoteURLUnchanged(t *testing.T) {
	r := newTestResolver()
	uri := "https://replicate.delivery/pbxt/abc/out-0.png?x=1&y=%20"

	a, err := r.ResolveItem(context.Background(), 0, job.OutputItem{URI: uri, MIMEType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, job.ArtifactRemoteURL, a.Kind)
	assert.Equal(t, uri, a.Payload)
	assert.Equal(t, "image/png", a.MIMEType)
	assert.Nil(t, a.ExpiresAt)
}

func TestResolveItem_DataURI(t *testing.T) {
	r := newTestResolver()
	uri := "data:image/png;base64,iVBORw0KGgo="

	a, err := r.ResolveItem(context.Background(), 1, job.OutputItem{URI: uri})
	require.NoError(t, err)
	assert.Equal(t, job.ArtifactInlineData, a.Kind)
	assert.Equal(t, uri, a.Payload)
	assert.Equal(t, "image/png", a.MIMEType)
	assert.Equal(t, 1, a.Index)

	_, err = r.ResolveItem(context.Background(), 1, job.OutputItem{URI: "data:image/png;base64,"})
	assert.ErrorIs(t, err, job.ErrUnresolvableOutput)
}

func TestResolveItem_InlineBase64(t *testing.T) {
	r := newTestResolver()

	a, err := r.ResolveItem(context.Background(), 0, job.OutputItem{Data: "AAAA", MIMEType: "video/mp4"})
	require.NoError(t, err)
	assert.Equal(t, job.ArtifactInlineData, a.Kind)
	assert.Equal(t, "data:video/mp4;base64,AAAA", a.Payload)

	_, err = r.ResolveItem(context.Background(), 0, job.OutputItem{Data: "%%%"})
	assert.ErrorIs(t, err, job.ErrUnresolvableOutput)
}

func TestResolveItem_SignsStorageReferences(t *testing.T) {
	signer := &fakeSigner{}
	r := newTestResolver(WithSigner(signer))
	before := time.Now()

	a, err := r.ResolveItem(context.Background(), 0, job.OutputItem{URI: "gs://veo-out/run/sample_0.mp4", MIMEType: "video/mp4"})
	require.NoError(t, err)
	assert.Equal(t, job.ArtifactRemoteURL, a.Kind)
	assert.Equal(t, "https://signed.example/veo-out/run/sample_0.mp4?ttl=15m0s", a.Payload)
	require.NotNil(t, a.ExpiresAt)
	assert.WithinDuration(t, before.Add(15*time.Minute), *a.ExpiresAt, 5*time.Second)

	_, err = r.ResolveItem(context.Background(), 0, job.OutputItem{URI: "s3://media/a.png"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), signer.calls.Load())
}

func TestResolveItem_StorageKeyKeptVerbatim(t *testing.T) {
	r := newTestResolver(WithSigner(&fakeSigner{}))

	a, err := r.ResolveItem(context.Background(), 0, job.OutputItem{URI: "gs://veo-out/clip#1 100%.mp4"})
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/veo-out/clip#1 100%.mp4?ttl=15m0s", a.Payload)
}

func TestResolveItem_SignerFailureIsTransport(t *testing.T) {
	r := newTestResolver(WithSigner(&fakeSigner{err: errors.New("metadata server timeout")}))

	_, err := r.ResolveItem(context.Background(), 0, job.OutputItem{URI: "gs://b/k.mp4"})
	assert.ErrorIs(t, err, job.ErrTransport)
}

func TestResolveItem_SchemeWithoutSigner(t *testing.T) {
	mux := storage.NewMux()
	mux.Register("s3", &fakeSigner{})
	r := newTestResolver(WithSigner(mux))

	_, err := r.ResolveItem(context.Background(), 0, job.OutputItem{URI: "s3://media/a.png"})
	require.NoError(t, err)

	_, err = r.ResolveItem(context.Background(), 0, job.OutputItem{URI: "gs://b/k.mp4"})
	assert.ErrorIs(t, err, job.ErrUnresolvableOutput)
	assert.ErrorIs(t, err, storage.ErrNoSigner)
}

func TestResolveItem_Unresolvable(t *testing.T) {
	r := newTestResolver()

	for _, item := range []job.OutputItem{
		{},
		{URI: "ftp://host/file"},
		{URI: "gs://bucket-only"},
		{URI: "gs://b/k.mp4"}, // no signer configured
		{URI: "https:///no-host"},
	} {
		_, err := r.ResolveItem(context.Background(), 0, item)
		assert.ErrorIs(t, err, job.ErrUnresolvableOutput, "item %+v", item)
	}
}

func TestResolve_PartialSuccess(t *testing.T) {
	r := newTestResolver()

	res, err := r.Resolve(context.Background(), items("https://x/a.png", "ftp://x/b.png"))
	require.NoError(t, err)
	assert.True(t, res.Partial())
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, 0, res.Artifacts[0].Index)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, job.KindUnresolvableOutput, res.Failures[0].Kind)
	assert.NotEmpty(t, res.Failures[0].Detail)
}

func TestResolve_KeepsOrder(t *testing.T) {
	r := newTestResolver(WithSigner(&fakeSigner{}), WithConcurrency(2))
	uris := []string{"gs://b/0", "https://x/1", "data:text/plain,2", "s3://b/3", "https://x/4"}

	res, err := r.Resolve(context.Background(), items(uris...))
	require.NoError(t, err)
	require.Len(t, res.Artifacts, len(uris))
	for i, a := range res.Artifacts {
		assert.Equal(t, i, a.Index)
	}
	assert.False(t, res.Partial())
}

func TestResolve_NoItems(t *testing.T) {
	r := newTestResolver()
	_, err := r.Resolve(context.Background(), job.RawOutput{})
	assert.ErrorIs(t, err, job.ErrUnresolvableOutput)
}

func TestResolve_AllFailed(t *testing.T) {
	r := newTestResolver(WithSigner(&fakeSigner{err: errors.New("boom")}))

	_, err := r.Resolve(context.Background(), items("gs://b/1", "s3://b/2"))
	assert.ErrorIs(t, err, job.ErrTransport, "shared kind is kept")

	_, err = r.Resolve(context.Background(), items("gs://b/1", "ftp://x"))
	assert.ErrorIs(t, err, job.ErrUnresolvableOutput, "mixed kinds collapse")
}
