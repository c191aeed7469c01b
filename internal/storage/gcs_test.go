package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func testPrivateKey(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestGCSSigner_SignedURL(t *testing.T) {
	s, err := NewGCSSigner(context.Background(), GCSConfig{
		GoogleAccessID: "signer@demo.iam.gserviceaccount.com",
		PrivateKey:     testPrivateKey(t),
	}, option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	raw, err := s.SignedURL(context.Background(), Ref{Scheme: "gs", Bucket: "veo-out", Key: "runs/1/sample_0.mp4"}, DefaultSignedURLTTL)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Contains(t, u.Path, "runs/1/sample_0.mp4")

	q := u.Query()
	assert.Equal(t, "GOOG4-RSA-SHA256", q.Get("X-Goog-Algorithm"))
	assert.NotEmpty(t, q.Get("X-Goog-Signature"))
	assert.NotEmpty(t, q.Get("X-Goog-Expires"))
	assert.Contains(t, q.Get("X-Goog-Credential"), "signer@demo.iam.gserviceaccount.com")
}

func TestGCSSigner_BadKey(t *testing.T) {
	s, err := NewGCSSigner(context.Background(), GCSConfig{
		GoogleAccessID: "signer@demo.iam.gserviceaccount.com",
		PrivateKey:     []byte("not a key"),
	}, option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.SignedURL(context.Background(), Ref{Scheme: "gs", Bucket: "b", Key: "k"}, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSignFailed))
}
