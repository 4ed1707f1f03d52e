package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashureev/zapito/internal/domain"
	"github.com/ashureev/zapito/internal/metrics"
	"github.com/ashureev/zapito/internal/whatsapp"
)

const maxSendBodyBytes = 64 << 10

var phonePattern = regexp.MustCompile(`^\d{10,15}$`)

// TemplateSender sends a template with caller-supplied components.
type TemplateSender interface {
	SendTemplateComponents(ctx context.Context, to, name, language string, components json.RawMessage) (string, error)
}

// OutboundRecorder persists send attempts.
type OutboundRecorder interface {
	RecordOutbound(ctx context.Context, msg *domain.OutboundMessage) error
}

// SendRequest is the body of POST /send.
type SendRequest struct {
	To           string          `json:"to"`
	TemplateName string          `json:"templateName"`
	Language     string          `json:"language,omitempty"`
	Components   json.RawMessage `json:"components,omitempty"`
}

// SendResult is the data of a successful send.
type SendResult struct {
	MessageID         string `json:"messageId"`
	WhatsAppMessageID string `json:"whatsappMessageId"`
}

// SendHandler exposes manual template sends.
type SendHandler struct {
	sender   TemplateSender
	recorder OutboundRecorder
	language string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSendHandler creates the manual send handler. recorder and m may be nil.
func NewSendHandler(sender TemplateSender, recorder OutboundRecorder, language string, m *metrics.Metrics, logger *slog.Logger) *SendHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if language == "" {
		language = domain.DefaultLanguage
	}
	return &SendHandler{
		sender:   sender,
		recorder: recorder,
		language: language,
		metrics:  m,
		logger:   logger.With("component", "send_api"),
	}
}

// RegisterRoutes mounts POST /send behind mw.
func (h *SendHandler) RegisterRoutes(r chi.Router, mw ...func(http.Handler) http.Handler) {
	r.With(mw...).Post("/send", h.Send)
}

// Send validates the request and sends one template message.
func (h *SendHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSendBodyBytes)).Decode(&req); err != nil {
		Failure(w, http.StatusBadRequest, "JSON inválido")
		return
	}
	if msg := validateSend(&req); msg != "" {
		h.logger.Warn("invalid send request", "to", req.To, "reason", msg)
		Failure(w, http.StatusBadRequest, msg)
		return
	}

	language := req.Language
	if language == "" {
		language = h.language
	}

	ctx := r.Context()
	providerID, sendErr := h.sender.SendTemplateComponents(ctx, req.To, req.TemplateName, language, req.Components)

	record := &domain.OutboundMessage{
		ID:                uuid.NewString(),
		To:                req.To,
		Kind:              domain.SendTemplate,
		Template:          req.TemplateName,
		Status:            domain.OutboundSent,
		ProviderMessageID: providerID,
		CreatedAt:         time.Now(),
	}
	if sendErr != nil {
		record.Status = domain.OutboundFailed
		record.Error = sendErr.Error()
	}
	h.metrics.Send(string(domain.SendTemplate), record.Status)
	h.record(ctx, record)

	if sendErr != nil {
		status := http.StatusInternalServerError
		message := "Erro interno no servidor"
		var apiErr *whatsapp.APIError
		if errors.As(sendErr, &apiErr) {
			status = apiErr.StatusCode
			if apiErr.Message != "" {
				message = apiErr.Message
			}
		}
		h.logger.Error("manual send failed",
			"to", req.To,
			"template", req.TemplateName,
			"error", sendErr)
		Failure(w, status, message)
		return
	}

	h.logger.Info("manual send ok",
		"message_id", record.ID,
		"whatsapp_id", providerID,
		"to", req.To,
		"template", req.TemplateName)
	Success(w, SendResult{MessageID: record.ID, WhatsAppMessageID: providerID})
}

func (h *SendHandler) record(ctx context.Context, msg *domain.OutboundMessage) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.RecordOutbound(context.WithoutCancel(ctx), msg); err != nil {
		h.logger.Warn("failed to record outbound message", "to", msg.To, "error", err)
	}
}

// validateSend returns a user-facing message for the first problem found.
func validateSend(req *SendRequest) string {
	var missing []string
	if req.To == "" {
		missing = append(missing, "to")
	}
	if req.TemplateName == "" {
		missing = append(missing, "templateName")
	}
	if len(missing) > 0 {
		return fmt.Sprintf("Campos obrigatórios faltando: %s", strings.Join(missing, ", "))
	}
	if !phonePattern.MatchString(req.To) {
		return "Formato de número inválido. Use formato internacional (ex: 5511999999999)"
	}
	if c := strings.TrimSpace(string(req.Components)); c != "" && c != "null" && !strings.HasPrefix(c, "[") {
		return "O campo components deve ser um array"
	}
	return ""
}
