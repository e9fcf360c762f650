package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hyperengineering/planlearn/internal/alerts"
	"github.com/hyperengineering/planlearn/internal/store"
	"github.com/hyperengineering/planlearn/internal/types"
	"github.com/hyperengineering/planlearn/internal/validation"
)

const wsWriteTimeout = 10 * time.Second

// ListAlerts handles GET /api/alerts/{user_id}
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	list, err := h.store.ListAlerts(r.Context(), userID)
	if err != nil {
		slog.Error("alert list failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}
	if list == nil {
		list = []types.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GenerateAlerts handles POST /api/alerts/{user_id}/generate
func (h *Handler) GenerateAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	created, err := h.suggester.Generate(r.Context(), userID, h.providers.Default())
	if err != nil {
		slog.Error("alert generation failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.GenerateAlertsResponse{
		SuggestionsCreated: len(created),
		Alerts:             created,
	})
}

type detectResponse struct {
	AlertsCreated int           `json:"alerts_created"`
	Alerts        []types.Alert `json:"alerts"`
}

// DetectAlerts handles POST /api/alerts/{user_id}/detect
func (h *Handler) DetectAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req types.DetectRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.detector.Run(r.Context(), alerts.DetectInput{
		UserID:   userID,
		Recent:   req.Recent,
		Baseline: req.Baseline,
	})
	if err != nil {
		slog.Error("alert detection failed", "component", "api", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, detectResponse{AlertsCreated: len(created), Alerts: created})
}

// AcknowledgeAlert handles POST /api/alerts/{alert_id}/acknowledge
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alert_id")
	if verr := validation.ValidateUUID("alert_id", id); verr != nil {
		writeJSON(w, http.StatusOK, types.AcknowledgeResponse{Acknowledged: false, Error: "Alert not found"})
		return
	}

	alert, err := h.store.AcknowledgeAlert(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, types.AcknowledgeResponse{Acknowledged: false, Error: "Alert not found"})
		return
	}
	if err != nil {
		slog.Error("alert acknowledge failed", "component", "api", "alert_id", id, "error", err)
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, types.AcknowledgeResponse{Acknowledged: true, ID: alert.ID})
}

// feedAlerts sends the connected message, then every alert published for
// the user and a heartbeat each poll interval, until ctx ends, send fails
// or CloseStreams is called.
func (h *Handler) feedAlerts(ctx context.Context, userID string, send func(types.AlertMessage) error) error {
	if !h.openStream() {
		return nil
	}
	defer h.streamWG.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.streams, cancel)
	defer stop()

	updates := h.hub.Subscribe(ctx, userID)

	count, err := h.store.CountAlerts(ctx, userID)
	if err != nil {
		return fmt.Errorf("count alerts: %w", err)
	}
	if err := send(types.AlertMessage{Type: types.AlertMessageConnected, Count: &count}); err != nil {
		return err
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case alert, ok := <-updates:
			if !ok {
				return nil
			}
			if err := send(types.AlertMessage{Type: types.AlertMessageAlert, Alert: &alert}); err != nil {
				return err
			}
		case <-ticker.C:
			if err := send(types.AlertMessage{Type: types.AlertMessageHeartbeat}); err != nil {
				return err
			}
		}
	}
}

// StreamAlerts handles GET /api/alerts/{user_id}/stream as server-sent
// events.
func (h *Handler) StreamAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("write deadline not cleared", "component", "api", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func(msg types.AlertMessage) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}

	slog.Debug("alert stream opened", "component", "api", "action", "sse_open", "user_id", userID)
	if err := h.feedAlerts(r.Context(), userID, send); err != nil && r.Context().Err() == nil {
		slog.Warn("alert stream closed", "component", "api", "user_id", userID, "error", err)
	}
}

// AlertsWebSocket handles GET /api/alerts/{user_id}/ws. It carries the same
// messages as the event stream.
func (h *Handler) AlertsWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || OriginAllowed(origin, AllowedOrigins(h.frontendURL))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		slog.Debug("websocket upgrade failed", "component", "api", "user_id", userID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Clients only listen; reading surfaces close frames and broken
	// connections.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg types.AlertMessage) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		return conn.WriteJSON(msg)
	}

	slog.Debug("alert socket opened", "component", "api", "action", "ws_open", "user_id", userID)
	if err := h.feedAlerts(ctx, userID, send); err != nil && ctx.Err() == nil {
		slog.Warn("alert socket closed", "component", "api", "user_id", userID, "error", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
}

// OriginAllowed reports whether origin matches one of the patterns. A
// pattern may hold a single "*" wildcard.
func OriginAllowed(origin string, patterns []string) bool {
	origin = strings.ToLower(origin)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if prefix, suffix, wild := strings.Cut(p, "*"); wild {
			if len(origin) >= len(prefix)+len(suffix) &&
				strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
				return true
			}
			continue
		}
		if origin == p {
			return true
		}
	}
	return false
}
