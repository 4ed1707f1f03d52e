package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// wsMessage is a client control frame.
type wsMessage struct {
	Type string `json:"type"`
}

// Handler upgrades operators to a websocket feed of turn events.
// The optional "user" query parameter restricts the feed to one user.
type Handler struct {
	broadcaster    *Broadcaster
	originPatterns []string
	logger         *slog.Logger
}

// NewHandler creates the websocket endpoint. originPatterns follow
// websocket.AcceptOptions; empty allows same-origin only.
func NewHandler(b *Broadcaster, originPatterns []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		broadcaster:    b,
		originPatterns: originPatterns,
		logger:         logger.With("component", "monitor"),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userFilter := r.URL.Query().Get("user")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("failed to accept websocket", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "monitor closed"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replay, events, subID := h.broadcaster.SubscribeWithReplay(ctx, userFilter)
	h.logger.Info("monitor connected", "sub_id", subID, "user_filter", userFilter, "replay", len(replay))

	for _, ev := range replay {
		if err := h.writeJSON(ctx, ws, ev); err != nil {
			h.logger.Debug("monitor replay failed", "sub_id", subID, "error", err)
			return
		}
	}

	go func() {
		defer cancel()
		h.readLoop(ctx, ws)
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("monitor disconnected", "sub_id", subID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeJSON(ctx, ws, ev); err != nil {
				h.logger.Debug("monitor write failed", "sub_id", subID, "error", err)
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.logger.Debug("monitor read error", "error", err)
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}

// Recent writes the remembered turns as JSON. The optional "user" query
// parameter restricts the list to one user.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	events := h.broadcaster.Recent(r.URL.Query().Get("user"))
	if events == nil {
		events = []Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"events": events}); err != nil {
		h.logger.Debug("failed to encode recent events", "error", err)
	}
}
