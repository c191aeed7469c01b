// Package server provides the HTTP API for generation sessions.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/invidias-codem/ai-saas/internal/job"
)

// CreateImageRequest is the HTTP request body for POST /generations/image.
type CreateImageRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
	// Amount is the number of images, 1 to 4. Defaults to 1.
	Amount int `json:"amount" validate:"omitempty,min=1,max=4"`
	// Resolution is WIDTHxHEIGHT. Defaults to 1024x1024.
	Resolution string `json:"resolution" validate:"omitempty,oneof=1024x1024 1536x680 680x1536"`
	// Surface identifies the UI surface issuing the request.
	Surface string `json:"surface" validate:"max=128"`
}

// CreateVideoRequest is the HTTP request body for POST /generations/video.
type CreateVideoRequest struct {
	Prompt          string `json:"prompt" validate:"required,max=4000"`
	AspectRatio     string `json:"aspect_ratio" validate:"omitempty,oneof=16:9 9:16 1:1"`
	DurationSeconds int    `json:"duration_seconds" validate:"omitempty,oneof=4 6 8"`
	Resolution      string `json:"resolution" validate:"omitempty,oneof=720p 1080p"`
	GenerateAudio   *bool  `json:"generate_audio"`
	Surface         string `json:"surface" validate:"max=128"`
}

// CreateMusicRequest is the HTTP request body for POST /generations/music.
type CreateMusicRequest struct {
	Prompt  string `json:"prompt" validate:"required,max=4000"`
	Surface string `json:"surface" validate:"max=128"`
}

// CreateGenerationResponse is the HTTP response after starting a session.
type CreateGenerationResponse struct {
	// ID is the session identifier.
	ID string `json:"id"`
	// Status is the initial session phase.
	Status string `json:"status"`
}

// GenerationResponse is the HTTP response for getting session details.
type GenerationResponse struct {
	ID            string                `json:"id"`
	Surface       string                `json:"surface,omitempty"`
	Modality      string                `json:"modality"`
	JobID         string                `json:"job_id,omitempty"`
	Status        string                `json:"status"`
	ProviderState string                `json:"provider_state,omitempty"`
	Polls         int                   `json:"polls"`
	Artifacts     []job.Artifact        `json:"artifacts,omitempty"`
	Failures      []job.ArtifactFailure `json:"failures,omitempty"`
	ErrorKind     string                `json:"error_kind,omitempty"`
	Error         string                `json:"error,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
}

// ListGenerationsResponse is the HTTP response for listing sessions.
type ListGenerationsResponse struct {
	Generations []GenerationResponse `json:"generations"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Modalities lists the modalities with a configured provider.
	Modalities []string `json:"modalities"`
	// ActiveSessions is the number of sessions not yet finished.
	ActiveSessions int `json:"active_sessions"`
}

func newGenerationResponse(rec *job.Record) GenerationResponse {
	resp := GenerationResponse{
		ID:            rec.ID,
		Surface:       rec.Surface,
		Modality:      string(rec.Modality),
		JobID:         rec.JobID,
		Status:        string(rec.Phase),
		ProviderState: string(rec.ProviderState),
		Polls:         rec.Polls,
		Artifacts:     rec.Artifacts,
		Failures:      rec.Failures,
		ErrorKind:     string(rec.ErrorKind),
		Error:         rec.Error,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if !rec.CompletedAt.IsZero() {
		t := rec.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}
