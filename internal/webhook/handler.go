// Package webhook receives WhatsApp Cloud API webhook deliveries and runs one
// conversation turn per inbound message.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/zapito/internal/chatbot"
	"github.com/ashureev/zapito/internal/convlog"
	"github.com/ashureev/zapito/internal/dedupe"
	"github.com/ashureev/zapito/internal/domain"
	"github.com/ashureev/zapito/internal/metrics"
	"github.com/ashureev/zapito/internal/monitor"
	"github.com/ashureev/zapito/internal/session"
	"github.com/ashureev/zapito/internal/store"
	"github.com/ashureev/zapito/internal/whatsapp"
)

const maxBodyBytes = 1 << 20

// Webhook outcomes used for metrics and logs.
const (
	outcomeProcessed = "processed"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeStale     = "stale"
	outcomeInvalid   = "invalid"
	outcomeError     = "error"
)

// SessionStore reads and writes conversation sessions.
type SessionStore interface {
	Get(ctx context.Context, userID string) (*domain.Session, error)
	CompareAndUpdate(ctx context.Context, current *domain.Session, state domain.State, staff *domain.StaffRef) error
	ClearState(ctx context.Context, userID string) error
}

// Engine runs one conversation turn.
type Engine interface {
	Process(ctx context.Context, in chatbot.Input) chatbot.Result
}

// Dispatcher delivers the turn's messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, intents []domain.SendIntent) []whatsapp.Outcome
}

// Publisher receives turn events for live monitoring.
type Publisher interface {
	Publish(ev monitor.Event)
}

// Handler serves GET and POST /webhook.
type Handler struct {
	verifyToken string
	sessions    SessionStore
	engine      Engine
	dispatcher  Dispatcher
	locks       *session.Locks
	dedupe      *dedupe.Cache
	publisher   Publisher
	convlog     convlog.Logger
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithDedupe skips message IDs already seen by cache.
func WithDedupe(cache *dedupe.Cache) Option {
	return func(h *Handler) { h.dedupe = cache }
}

// WithPublisher publishes every processed turn.
func WithPublisher(p Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

// WithConversationLog records inbound and outbound messages.
func WithConversationLog(l convlog.Logger) Option {
	return func(h *Handler) { h.convlog = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l.With("component", "webhook") }
}

// NewHandler creates the webhook handler.
func NewHandler(verifyToken string, sessions SessionStore, engine Engine, dispatcher Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		verifyToken: verifyToken,
		sessions:    sessions,
		engine:      engine,
		dispatcher:  dispatcher,
		locks:       session.NewLocks(),
		convlog:     convlog.Noop{},
		logger:      slog.Default().With("component", "webhook"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the webhook. verify authenticates POST deliveries.
func (h *Handler) RegisterRoutes(r chi.Router, verify func(http.Handler) http.Handler) {
	r.Get("/webhook", h.Verify)
	r.With(verify).Post("/webhook", h.Receive)
}

// Verify answers the subscription handshake.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("hub.verify_token")
	mode := q.Get("hub.mode")

	if h.verifyToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 ||
		(mode != "" && mode != "subscribe") {
		h.logger.Warn("webhook verification failed", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	h.logger.Info("webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// Receive handles one delivery.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&env); err != nil {
		h.logger.Warn("invalid webhook payload", "error", err)
		h.metrics.WebhookRequest(outcomeInvalid)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	in, ok := env.FirstMessage()
	if !ok {
		h.metrics.WebhookRequest(outcomeIgnored)
		w.WriteHeader(http.StatusOK)
		return
	}

	if h.dedupe != nil && h.dedupe.CheckAndMark(in.MessageID) {
		h.logger.Info("duplicate delivery skipped", "user_id", in.From, "message_id", in.MessageID)
		h.metrics.Duplicate()
		h.metrics.WebhookRequest(outcomeDuplicate)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Sends must finish even if the platform drops the connection.
	ctx := context.WithoutCancel(r.Context())
	outcome, err := h.handleTurn(ctx, in, chiMiddleware.GetReqID(r.Context()))
	h.metrics.WebhookRequest(outcome)
	if err != nil {
		if h.dedupe != nil {
			h.dedupe.Forget(in.MessageID)
		}
		h.logger.Error("webhook turn failed", "user_id", in.From, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTurn(ctx context.Context, in Inbound, requestID string) (string, error) {
	start := time.Now()
	unlock := h.locks.Lock(in.From)
	defer unlock()

	sess, err := h.sessions.Get(ctx, in.From)
	if err != nil {
		return outcomeError, err
	}

	h.convlog.Log(convlog.Event{
		UserID:    in.From,
		Direction: convlog.DirectionInbound,
		State:     string(sess.State),
		Text:      in.Text,
		Meta:      map[string]any{"message_id": in.MessageID, "request_id": requestID},
	})

	res := h.engine.Process(ctx, chatbot.Input{
		UserID:      in.From,
		DisplayName: in.DisplayName,
		Text:        in.Text,
		State:       sess.State,
	})

	if res.Reset {
		err = h.sessions.ClearState(ctx, in.From)
	} else {
		err = h.sessions.CompareAndUpdate(ctx, sess, res.Next, res.Staff)
	}
	if errors.Is(err, store.ErrStaleSession) {
		h.logger.Warn("stale session write, dropping turn",
			"user_id", in.From,
			"state", sess.State,
			"next_state", res.Next)
		return outcomeStale, nil
	}
	if err != nil {
		return outcomeError, err
	}

	outcomes := h.dispatcher.Dispatch(ctx, res.Sends)
	failed := whatsapp.Failed(outcomes)

	labels := make([]string, len(res.Sends))
	for i, s := range res.Sends {
		labels[i] = s.Label()
		h.convlog.Log(convlog.Event{
			UserID:    in.From,
			Direction: convlog.DirectionOutbound,
			State:     string(sess.State),
			NextState: string(res.Next),
			Text:      s.Text,
			Template:  s.Template,
			Params:    s.Params,
		})
	}

	if h.publisher != nil {
		h.publisher.Publish(monitor.Event{
			UserID:      in.From,
			DisplayName: in.DisplayName,
			Text:        in.Text,
			From:        sess.State,
			To:          res.Next,
			Route:       res.Route,
			Sends:       labels,
			Failed:      len(failed),
		})
	}

	h.metrics.ObserveTurn(time.Since(start).Seconds())
	return outcomeProcessed, nil
}
