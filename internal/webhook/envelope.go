package webhook

// DefaultDisplayName is used when the sender has no profile name.
const DefaultDisplayName = "Cliente"

// Envelope is the Cloud API webhook payload. Only the fields read by the
// bot are declared.
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one business account entry.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one field change notification.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries messages, contacts and delivery statuses.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
	Statuses         []Status  `json:"statuses"`
}

// Contact is the sender profile.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Status is a delivery receipt for an outbound message.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// Message is one inbound message.
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *TextBody    `json:"text,omitempty"`
	Button      *Button      `json:"button,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

// TextBody is a plain text message.
type TextBody struct {
	Body string `json:"body"`
}

// Button is a quick-reply button press on a template.
type Button struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// Interactive is a reply to an interactive button or list message.
type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
	ListReply   *Reply `json:"list_reply,omitempty"`
}

// Reply identifies the chosen button or list row.
type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Inbound is the message the bot acts on.
type Inbound struct {
	MessageID   string
	From        string
	DisplayName string
	Text        string
}

// FirstMessage returns the first message of the first change, or false when
// the payload carries none (status callbacks, empty entries).
func (e *Envelope) FirstMessage() (Inbound, bool) {
	if len(e.Entry) == 0 || len(e.Entry[0].Changes) == 0 {
		return Inbound{}, false
	}
	value := e.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return Inbound{}, false
	}
	msg := value.Messages[0]
	if msg.From == "" {
		return Inbound{}, false
	}

	name := DefaultDisplayName
	if len(value.Contacts) > 0 && value.Contacts[0].Profile.Name != "" {
		name = value.Contacts[0].Profile.Name
	}

	return Inbound{
		MessageID:   msg.ID,
		From:        msg.From,
		DisplayName: name,
		Text:        msg.InputText(),
	}, true
}

// InputText picks the first non-empty of text body, button payload, button
// text, button reply id/title and list reply id/title.
func (m Message) InputText() string {
	var candidates []string
	if m.Text != nil {
		candidates = append(candidates, m.Text.Body)
	}
	if m.Button != nil {
		candidates = append(candidates, m.Button.Payload, m.Button.Text)
	}
	if m.Interactive != nil {
		if r := m.Interactive.ButtonReply; r != nil {
			candidates = append(candidates, r.ID, r.Title)
		}
		if r := m.Interactive.ListReply; r != nil {
			candidates = append(candidates, r.ID, r.Title)
		}
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
