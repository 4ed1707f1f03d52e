package domain

import "time"

// SendKind selects the outbound message shape.
type SendKind string

const (
	SendTemplate SendKind = "template"
	SendText     SendKind = "text"
)

// DefaultLanguage is the template language used when none is configured.
const DefaultLanguage = "pt_BR"

// Template names registered with the messaging platform.
const (
	TemplateMainMenu      = "menu_inicial_zapito"
	TemplateSacMenu       = "menu_sac_zapito"
	TemplateOutrosMenu    = "menu_outros_zapito"
	TemplateSeller        = "vendedor_zapito"
	TemplateOrder         = "pedido_zapito"
	TemplateSac           = "sac_zapito"
	TemplateFarewell      = "despedida_zapito"
	TemplateCareers       = "trabalhe_conosco"
	TemplateSiteFAQ       = "duvidas_sobre_o_site"
	TemplateAddress       = "endereco"
	TemplateBusinessHours = "horario_atendimento"
	TemplatePhone         = "numero_ligacao"
)

// SendIntent describes one outbound message. The conversation engine
// returns an ordered list of intents; a dispatcher performs the I/O.
type SendIntent struct {
	To       string   `json:"to"`
	Kind     SendKind `json:"kind"`
	Template string   `json:"template,omitempty"`
	Language string   `json:"language,omitempty"`
	Params   []string `json:"params,omitempty"`
	Text     string   `json:"text,omitempty"`
}

// TemplateIntent builds a template send with positional body parameters.
func TemplateIntent(to, name string, params ...string) SendIntent {
	return SendIntent{To: to, Kind: SendTemplate, Template: name, Params: params}
}

// TextIntent builds a free-text send.
func TextIntent(to, text string) SendIntent {
	return SendIntent{To: to, Kind: SendText, Text: text}
}

// Label returns the template name or "text" for logging.
func (i SendIntent) Label() string {
	if i.Kind == SendTemplate {
		return i.Template
	}
	return string(SendText)
}

// Outbound delivery status values.
const (
	OutboundSent   = "sent"
	OutboundFailed = "failed"
)

// OutboundMessage records one attempt to deliver a message.
type OutboundMessage struct {
	ID                string    `json:"id"`
	To                string    `json:"to"`
	Kind              SendKind  `json:"kind"`
	Template          string    `json:"template,omitempty"`
	Status            string    `json:"status"`
	Error             string    `json:"error,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
