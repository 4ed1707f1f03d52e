package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/zapito/internal/domain"
)

type capturedRequest struct {
	Path          string
	Authorization string
	Body          map[string]any
}

func newGraphServer(t *testing.T, status int, response string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)

		mu.Lock()
		captured = append(captured, capturedRequest{
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		BaseURL:    srv.URL,
		APIVersion: "v19.0",
		PhoneID:    "12345",
		Token:      "secret-token",
	})
}

func TestSendTemplateWithParams(t *testing.T) {
	srv, captured := newGraphServer(t, http.StatusOK, `{"messages":[{"id":"wamid.1"}]}`)
	client := newTestClient(srv)

	id, err := client.SendTemplate(context.Background(), "5511999999999", "menu_inicial_zapito", "pt_BR", []string{"Maria", "bom dia"})
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", id)

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/v19.0/12345/messages", req.Path)
	assert.Equal(t, "Bearer secret-token", req.Authorization)
	assert.Equal(t, "whatsapp", req.Body["messaging_product"])
	assert.Equal(t, "5511999999999", req.Body["to"])
	assert.Equal(t, "template", req.Body["type"])

	tpl := req.Body["template"].(map[string]any)
	assert.Equal(t, "menu_inicial_zapito", tpl["name"])
	assert.Equal(t, map[string]any{"code": "pt_BR"}, tpl["language"])

	comps := tpl["components"].([]any)
	require.Len(t, comps, 1)
	body := comps[0].(map[string]any)
	assert.Equal(t, "body", body["type"])
	assert.Equal(t, []any{
		map[string]any{"type": "text", "text": "Maria"},
		map[string]any{"type": "text", "text": "bom dia"},
	}, body["parameters"])
}

func TestSendTemplateWithoutParamsOmitsComponents(t *testing.T) {
	srv, captured := newGraphServer(t, http.StatusOK, `{"messages":[{"id":"wamid.2"}]}`)
	client := newTestClient(srv)

	_, err := client.SendTemplate(context.Background(), "5511999999999", "despedida_zapito", "pt_BR", nil)
	require.NoError(t, err)

	tpl := (*captured)[0].Body["template"].(map[string]any)
	_, ok := tpl["components"]
	assert.False(t, ok, "components must be absent when there are no params")
}

func TestSendText(t *testing.T) {
	srv, captured := newGraphServer(t, http.StatusOK, `{"messages":[{"id":"wamid.3"}]}`)
	client := newTestClient(srv)

	id, err := client.SendText(context.Background(), "5511999999999", "Digite 'menu' ou 'finalizar'.")
	require.NoError(t, err)
	assert.Equal(t, "wamid.3", id)

	req := (*captured)[0]
	assert.Equal(t, "text", req.Body["type"])
	assert.Equal(t, map[string]any{"body": "Digite 'menu' ou 'finalizar'."}, req.Body["text"])
	_, ok := req.Body["template"]
	assert.False(t, ok)
}

func TestSendReturnsAPIError(t *testing.T) {
	srv, _ := newGraphServer(t, http.StatusBadRequest, `{"error":{"message":"Template name does not exist","code":132001}}`)
	client := newTestClient(srv)

	_, err := client.SendTemplate(context.Background(), "5511999999999", "missing", "pt_BR", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, 132001, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "Template name does not exist")
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Config{PhoneID: "999"})
	assert.Equal(t, "https://graph.facebook.com/v19.0/999/messages", client.endpoint)
}

type fakeSender struct {
	mu    sync.Mutex
	calls []domain.SendIntent
	fail  map[string]error
}

func (f *fakeSender) SendTemplate(_ context.Context, to, name, language string, params []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, domain.SendIntent{To: to, Kind: domain.SendTemplate, Template: name, Language: language, Params: params})
	if err := f.fail[name]; err != nil {
		return "", err
	}
	return "wamid." + name, nil
}

func (f *fakeSender) SendText(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, domain.SendIntent{To: to, Kind: domain.SendText, Text: body})
	return "wamid.text", nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	messages []*domain.OutboundMessage
}

func (f *fakeRecorder) RecordOutbound(_ context.Context, msg *domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	sender := &fakeSender{fail: map[string]error{
		domain.TemplateMainMenu: &APIError{StatusCode: http.StatusInternalServerError},
	}}
	recorder := &fakeRecorder{}
	d := NewDispatcher(sender, recorder, "pt_BR", nil, nil)

	outcomes := d.Dispatch(context.Background(), []domain.SendIntent{
		domain.TemplateIntent("5511", domain.TemplateMainMenu, "Maria", "bom dia"),
		domain.TextIntent("5511", "olá"),
	})

	require.Len(t, outcomes, 2)
	assert.Error(t, outcomes[0].Err)
	assert.NoError(t, outcomes[1].Err)
	assert.Equal(t, "wamid.text", outcomes[1].ProviderMessageID)
	assert.Len(t, Failed(outcomes), 1)

	require.Len(t, sender.calls, 2)
	assert.Equal(t, "pt_BR", sender.calls[0].Language, "empty intent language falls back to dispatcher default")

	require.Len(t, recorder.messages, 2)
	assert.Equal(t, domain.OutboundFailed, recorder.messages[0].Status)
	assert.NotEmpty(t, recorder.messages[0].Error)
	assert.Equal(t, domain.OutboundSent, recorder.messages[1].Status)
	assert.NotEqual(t, recorder.messages[0].ID, recorder.messages[1].ID)
}

func TestDispatchKeepsIntentLanguage(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, nil, "pt_BR", nil, nil)

	intent := domain.TemplateIntent("5511", domain.TemplateFarewell)
	intent.Language = "en_US"
	d.Dispatch(context.Background(), []domain.SendIntent{intent})

	require.Len(t, sender.calls, 1)
	assert.Equal(t, "en_US", sender.calls[0].Language)
}

func TestDispatchUnknownKind(t *testing.T) {
	d := NewDispatcher(&fakeSender{}, nil, "", nil, nil)
	outcomes := d.Dispatch(context.Background(), []domain.SendIntent{{To: "5511", Kind: "audio"}})
	require.Len(t, outcomes, 1)
	assert.Error(t, outcomes[0].Err)
}
