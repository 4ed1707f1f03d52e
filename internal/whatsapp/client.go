// Package whatsapp wraps the WhatsApp Cloud API used for outbound messages.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the Graph API host.
const DefaultBaseURL = "https://graph.facebook.com"

// DefaultAPIVersion is the Graph API version used when none is configured.
const DefaultAPIVersion = "v19.0"

const maxErrorBodySize = 64 << 10

// Config holds Cloud API credentials.
type Config struct {
	BaseURL    string
	APIVersion string
	PhoneID    string
	Token      string
	Timeout    time.Duration
}

// Client sends template and text messages.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewClient creates a Cloud API client.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		endpoint: fmt.Sprintf("%s/%s/%s/messages", base, version, cfg.PhoneID),
		token:    cfg.Token,
		http:     &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	StatusCode int
	Message    string
	Code       int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("whatsapp api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("whatsapp api: status %d: %s", e.StatusCode, e.Message)
}

// Wire types for the /messages endpoint.

type textParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Component is a template component.
type Component struct {
	Type       string          `json:"type"`
	SubType    string          `json:"sub_type,omitempty"`
	Index      string          `json:"index,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templatePayload struct {
	Name       string           `json:"name"`
	Language   templateLanguage `json:"language"`
	Components json.RawMessage  `json:"components,omitempty"`
}

type textPayload struct {
	Body string `json:"body"`
}

type messageRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Template         *templatePayload `json:"template,omitempty"`
	Text             *textPayload     `json:"text,omitempty"`
}

type messageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// BodyComponents builds the components array for positional body variables.
// Returns nil when there are no params.
func BodyComponents(params []string) (json.RawMessage, error) {
	if len(params) == 0 {
		return nil, nil
	}
	values := make([]textParameter, len(params))
	for i, p := range params {
		values[i] = textParameter{Type: "text", Text: p}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	comps, err := json.Marshal([]Component{{Type: "body", Parameters: raw}})
	if err != nil {
		return nil, fmt.Errorf("marshal components: %w", err)
	}
	return comps, nil
}

// SendTemplate sends a pre-approved template with positional body variables.
// It returns the provider message ID.
func (c *Client) SendTemplate(ctx context.Context, to, name, language string, params []string) (string, error) {
	comps, err := BodyComponents(params)
	if err != nil {
		return "", err
	}
	return c.SendTemplateComponents(ctx, to, name, language, comps)
}

// SendTemplateComponents sends a template with a caller-built components array.
func (c *Client) SendTemplateComponents(ctx context.Context, to, name, language string, components json.RawMessage) (string, error) {
	if len(components) == 0 || string(components) == "null" || string(components) == "[]" {
		components = nil
	}
	return c.send(ctx, messageRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: &templatePayload{
			Name:       name,
			Language:   templateLanguage{Code: language},
			Components: components,
		},
	})
}

// SendText sends a free-text message.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	return c.send(ctx, messageRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &textPayload{Body: body},
	})
}

func (c *Client) send(ctx context.Context, msg messageRequest) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send %s message: %w", msg.Type, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil {
			apiErr.Message = er.Error.Message
			apiErr.Code = er.Error.Code
		}
		return "", apiErr
	}

	var mr messageResponse
	if err := json.Unmarshal(data, &mr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(mr.Messages) == 0 {
		return "", nil
	}
	return mr.Messages[0].ID, nil
}
