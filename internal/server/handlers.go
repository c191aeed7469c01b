package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/invidias-codem/ai-saas/internal/job"
	"github.com/invidias-codem/ai-saas/internal/orchestrator"
)

// SurfaceHeader carries the surface identifier when the body does not.
const SurfaceHeader = "X-Surface-ID"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Sessions starts and looks up generation sessions.
type Sessions interface {
	Start(ctx context.Context, surface string, req job.Request) *orchestrator.Session
	Get(id string) (*orchestrator.Session, bool)
	Cancel(id string) error
	Active() int
}

// Providers reports which modalities can be served.
type Providers interface {
	Supports(m job.Modality) bool
	Modalities() []job.Modality
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	sessions  Sessions
	records   job.Repository
	providers Providers
	validator *validator.Validate
	logger    *slog.Logger
	keepAlive time.Duration
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithProviders rejects requests for modalities p cannot serve.
func WithProviders(p Providers) HandlerOption {
	return func(h *Handlers) {
		h.providers = p
	}
}

// WithKeepAlive sets the interval of comment lines sent on idle event streams.
func WithKeepAlive(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		h.keepAlive = d
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sessions Sessions, records job.Repository, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		sessions:  sessions,
		records:   records,
		validator: validator.New(),
		logger:    logger,
		keepAlive: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Modalities: []string{}, ActiveSessions: h.sessions.Active()}
	if h.providers != nil {
		for _, m := range h.providers.Modalities() {
			resp.Modalities = append(resp.Modalities, string(m))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateGeneration handles POST /generations/{modality} requests.
func (h *Handlers) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	modality, ok := job.ParseModality(r.PathValue("modality"))
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown modality %q", r.PathValue("modality")), "UNKNOWN_MODALITY")
		return
	}
	if h.providers != nil && !h.providers.Supports(modality) {
		writeError(w, http.StatusNotImplemented, fmt.Sprintf("no provider configured for %s", modality), "MODALITY_UNAVAILABLE")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var (
		req     job.Request
		surface string
	)
	switch modality {
	case job.ModalityImage:
		var body CreateImageRequest
		if !h.decode(w, r, &body) {
			return
		}
		req = job.ImageRequest{Prompt: body.Prompt, Amount: body.Amount, Resolution: body.Resolution}
		surface = body.Surface
	case job.ModalityVideo:
		var body CreateVideoRequest
		if !h.decode(w, r, &body) {
			return
		}
		req = job.VideoRequest{
			Prompt:          body.Prompt,
			AspectRatio:     body.AspectRatio,
			DurationSeconds: body.DurationSeconds,
			Resolution:      body.Resolution,
			GenerateAudio:   body.GenerateAudio,
		}
		surface = body.Surface
	case job.ModalityMusic:
		var body CreateMusicRequest
		if !h.decode(w, r, &body) {
			return
		}
		req = job.MusicRequest{Prompt: body.Prompt}
		surface = body.Surface
	}

	if surface == "" {
		surface = r.Header.Get(SurfaceHeader)
	}

	// Reject what the session would fail with anyway, e.g. a blank prompt.
	if _, err := job.Normalize(req); err != nil {
		writeError(w, http.StatusBadRequest, job.DetailOf(err), "VALIDATION_ERROR")
		return
	}

	s := h.sessions.Start(r.Context(), surface, req)

	h.logger.Info("generation started",
		slog.String("session_id", s.ID),
		slog.String("modality", string(modality)),
		slog.String("surface", surface),
	)

	writeJSON(w, http.StatusAccepted, CreateGenerationResponse{
		ID:     s.ID,
		Status: string(job.PhaseSubmitting),
	})
}

// GetGeneration handles GET /generations/{id} requests. The id may be a
// session ID or the provider job ID of a live session.
func (h *Handlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := h.records.FindByID(r.Context(), id)
	if errors.Is(err, job.ErrRecordNotFound) {
		if s, ok := h.sessions.Get(id); ok {
			rec, err = h.records.FindByID(r.Context(), s.ID)
		}
	}
	if err != nil {
		if errors.Is(err, job.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "generation not found", "GENERATION_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get generation",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get generation", "GENERATION_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newGenerationResponse(rec))
}

// ListGenerations handles GET /generations requests. The optional surface
// query parameter restricts the list to one UI surface. Newest first.
func (h *Handlers) ListGenerations(w http.ResponseWriter, r *http.Request) {
	surface := r.URL.Query().Get("surface")

	recs, err := h.records.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list generations", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list generations", "GENERATION_LIST_FAILED")
		return
	}

	resp := ListGenerationsResponse{Generations: make([]GenerationResponse, 0, len(recs))}
	for _, rec := range recs {
		if surface != "" && rec.Surface != surface {
			continue
		}
		resp.Generations = append(resp.Generations, newGenerationResponse(rec))
	}
	sort.Slice(resp.Generations, func(i, j int) bool {
		return resp.Generations[i].CreatedAt.After(resp.Generations[j].CreatedAt)
	})

	writeJSON(w, http.StatusOK, resp)
}

// CancelGeneration handles DELETE /generations/{id} requests.
func (h *Handlers) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sessions.Cancel(id); err != nil {
		if errors.Is(err, orchestrator.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "no live generation with this id", "GENERATION_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to cancel generation", "CANCEL_FAILED")
		return
	}

	h.logger.Info("generation canceled", slog.String("id", id))
	w.WriteHeader(http.StatusNoContent)
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
