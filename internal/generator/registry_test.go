package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/replicate"
	"github.com/invidias-codem/ai-saas/internal/vertex"
)

func TestRegistry_Routes(t *testing.T) {
	rc := &mockReplicateClient{}
	vc := &mockVertexClient{}
	reg := NewRegistry()
	reg.Register(job.ModalityImage, NewReplicateAdapter(rc))
	reg.Register(job.ModalityVideo, NewVertexAdapter(vc))

	assert.Equal(t, []job.Modality{job.ModalityImage, job.ModalityVideo}, reg.Modalities())
	assert.False(t, reg.Supports(job.ModalityMusic))

	rc.On("CreatePrediction", mock.Anything, mock.Anything, mock.Anything).Return(replicate.Prediction{ID: "pred-1"}, nil)
	vc.On("FetchOperation", mock.Anything, "op-1").Return(vertex.Operation{}, nil)

	h, err := reg.Submit(context.Background(), job.ImageRequest{Prompt: "cat"})
	require.NoError(t, err)
	assert.Equal(t, "pred-1", h.ID)

	st, err := reg.Status(context.Background(), job.Handle{ID: "op-1", Modality: job.ModalityVideo})
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, st.State)
}

func TestRegistry_Unconfigured(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Submit(context.Background(), job.MusicRequest{Prompt: "jazz"})
	assert.ErrorIs(t, err, job.ErrValidation)

	_, err = reg.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, job.ErrValidation)
}

func TestRegistry_CancelUpstream(t *testing.T) {
	rc := &mockReplicateClient{}
	reg := NewRegistry()
	reg.Register(job.ModalityMusic, NewReplicateAdapter(rc))
	reg.Register(job.ModalityVideo, NewVertexAdapter(&mockVertexClient{}))

	rc.On("CancelPrediction", mock.Anything, "pred-1").Return(nil)
	require.NoError(t, reg.CancelUpstream(context.Background(), job.Handle{ID: "pred-1", Modality: job.ModalityMusic}))

	err := reg.CancelUpstream(context.Background(), job.Handle{ID: "op-1", Modality: job.ModalityVideo})
	assert.ErrorIs(t, err, ErrCancelUnsupported)
}
