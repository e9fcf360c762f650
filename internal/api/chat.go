package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/planlearn/internal/agent"
	"github.com/hyperengineering/planlearn/internal/types"
	"github.com/hyperengineering/planlearn/internal/validation"
)

// streamWriter flushes after every write and remembers whether the
// response has started.
type streamWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func (s *streamWriter) Write(p []byte) (int, error) {
	s.started = true
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}

// Chat handles POST /api/chat. The body is streamed as text/plain with
// [MEMORI] status events interleaved with the assistant text.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.ValidateChatRequest(req); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	if req.OpenAIAPIKey == "" {
		used, err := h.store.CountFreeUsage(r.Context(), req.UserID)
		if err != nil {
			slog.Error("usage lookup failed", "component", "api", "user_id", req.UserID, "error", err)
			MapError(w, r, err)
			return
		}
		if used >= h.freeLimit {
			slog.Info("free usage exhausted",
				"component", "api",
				"action", "chat_rejected",
				"user_id", req.UserID,
				"free_uses", used,
			)
			WriteProblemUsageLimit(w, r, h.freeLimit)
			return
		}
	}

	rc := http.NewResponseController(w)
	// Chat turns can outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("write deadline not cleared", "component", "api", "error", err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	sw := &streamWriter{w: w, rc: rc}
	err := h.chat.Chat(r.Context(), req, sw)
	if err == nil {
		return
	}

	if !sw.started && !errors.Is(err, agent.ErrStreamInterrupted) {
		if r.Context().Err() != nil {
			return
		}
		slog.Error("chat failed", "component", "api", "user_id", req.UserID, "error", err)
		MapError(w, r, err)
		return
	}
	slog.Warn("chat stream ended early", "component", "api", "user_id", req.UserID, "error", err)
}
