package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/zapito/internal/domain"
	"github.com/ashureev/zapito/internal/metrics"
)

// Sender is the outbound API used by the dispatcher.
type Sender interface {
	SendTemplate(ctx context.Context, to, name, language string, params []string) (string, error)
	SendText(ctx context.Context, to, body string) (string, error)
}

// Recorder persists outbound delivery attempts.
type Recorder interface {
	RecordOutbound(ctx context.Context, msg *domain.OutboundMessage) error
}

// Outcome is the result of one dispatched intent.
type Outcome struct {
	Intent            domain.SendIntent
	ProviderMessageID string
	Err               error
}

// Dispatcher executes send intents in order.
type Dispatcher struct {
	sender   Sender
	recorder Recorder
	language string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. recorder and m may be nil.
func NewDispatcher(sender Sender, recorder Recorder, language string, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if language == "" {
		language = domain.DefaultLanguage
	}
	return &Dispatcher{
		sender:   sender,
		recorder: recorder,
		language: language,
		metrics:  m,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch sends every intent sequentially. A failed send is logged and does
// not stop the ones after it.
func (d *Dispatcher) Dispatch(ctx context.Context, intents []domain.SendIntent) []Outcome {
	outcomes := make([]Outcome, 0, len(intents))
	for _, intent := range intents {
		id, err := d.send(ctx, intent)
		if err != nil {
			d.metrics.Send(string(intent.Kind), domain.OutboundFailed)
			d.logger.Error("outbound send failed",
				"to", intent.To,
				"template", intent.Label(),
				"error", err)
		} else {
			d.metrics.Send(string(intent.Kind), domain.OutboundSent)
			d.logger.Debug("outbound send ok", "to", intent.To, "template", intent.Label(), "message_id", id)
		}
		d.record(ctx, intent, id, err)
		outcomes = append(outcomes, Outcome{Intent: intent, ProviderMessageID: id, Err: err})
	}
	return outcomes
}

func (d *Dispatcher) send(ctx context.Context, intent domain.SendIntent) (string, error) {
	switch intent.Kind {
	case domain.SendTemplate:
		lang := intent.Language
		if lang == "" {
			lang = d.language
		}
		return d.sender.SendTemplate(ctx, intent.To, intent.Template, lang, intent.Params)
	case domain.SendText:
		return d.sender.SendText(ctx, intent.To, intent.Text)
	default:
		return "", fmt.Errorf("unknown send kind %q", intent.Kind)
	}
}

func (d *Dispatcher) record(ctx context.Context, intent domain.SendIntent, providerID string, sendErr error) {
	if d.recorder == nil {
		return
	}
	msg := &domain.OutboundMessage{
		ID:                uuid.NewString(),
		To:                intent.To,
		Kind:              intent.Kind,
		Template:          intent.Template,
		Status:            domain.OutboundSent,
		ProviderMessageID: providerID,
		CreatedAt:         time.Now(),
	}
	if sendErr != nil {
		msg.Status = domain.OutboundFailed
		msg.Error = sendErr.Error()
	}
	if err := d.recorder.RecordOutbound(ctx, msg); err != nil {
		d.logger.Warn("failed to record outbound message", "to", intent.To, "error", err)
	}
}

// Failed returns the outcomes that errored.
func Failed(outcomes []Outcome) []Outcome {
	var out []Outcome
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// StatusCode extracts the HTTP status of an APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
