package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/invidias-codem/ai-saas/internal/orchestrator"
)

// StreamEvents handles GET /generations/{id}/events. It streams progress as
// Server-Sent Events followed by one terminal event. A locally canceled
// session ends the stream without a terminal event.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s, ok := h.sessions.Get(id)
	if !ok {
		if _, err := h.records.FindByID(r.Context(), id); err == nil {
			writeError(w, http.StatusGone, "generation already finished", "GENERATION_FINISHED")
			return
		}
		writeError(w, http.StatusNotFound, "generation not found", "GENERATION_NOT_FOUND")
		return
	}

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	rc := http.NewResponseController(w)
	// Video sessions outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("cannot clear write deadline", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("streaming unsupported", slog.String("error", err.Error()))
		return
	}

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Debug("event stream closed",
					slog.String("session_id", s.ID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev orchestrator.Event) error {
	var payload any = ev.Progress
	if ev.IsTerminal() {
		payload = ev.Outcome
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
