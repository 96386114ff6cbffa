package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipos/m/internal/apperr"
)

// botAPI records sendMessage calls and answers with a fixed status.
type botAPI struct {
	mu       sync.Mutex
	paths    []string
	messages []sendRequest
	status   int
	answer   string
}

func newBotAPI(t *testing.T) (*botAPI, *httptest.Server) {
	t.Helper()
	b := &botAPI{status: http.StatusOK, answer: `{"ok":true,"result":{}}`}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		b.paths = append(b.paths, r.URL.Path)
		b.messages = append(b.messages, req)
		status, answer := b.status, b.answer
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(answer))
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *botAPI) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

var ready = Config{Enabled: true, BotToken: "123:abc", ChatID: "-10042"}

func TestSendPostsToBotAPI(t *testing.T) {
	api, srv := newBotAPI(t)
	tg := NewTelegram(zerolog.Nop(), WithBaseURL(srv.URL+"/"))

	require.NoError(t, tg.Send(context.Background(), ready, "*hello*"))

	require.Equal(t, 1, api.calls())
	assert.Equal(t, "/bot123:abc/sendMessage", api.paths[0])
	assert.Equal(t, "-10042", api.messages[0].ChatID)
	assert.Equal(t, "*hello*", api.messages[0].Text)
	assert.Equal(t, "Markdown", api.messages[0].ParseMode)
}

func TestSendRequiresTokenAndChat(t *testing.T) {
	api, srv := newBotAPI(t)
	tg := NewTelegram(zerolog.Nop(), WithBaseURL(srv.URL))

	err := tg.Send(context.Background(), Config{BotToken: "123:abc"}, "x")
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Zero(t, api.calls())
}

func TestSendReportsRejection(t *testing.T) {
	api, srv := newBotAPI(t)
	api.status = http.StatusBadRequest
	api.answer = `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
	tg := NewTelegram(zerolog.Nop(), WithBaseURL(srv.URL))

	for i := 0; i < 6; i++ {
		err := tg.Send(context.Background(), ready, "x")
		ae := apperr.As(err)
		assert.Equal(t, CodeDelivery, ae.Code)
		assert.Equal(t, "Bad Request: chat not found", ae.Message)
	}
	// rejections do not open the breaker
	assert.Equal(t, 6, api.calls())
}

func TestSendOpensBreakerOnServerErrors(t *testing.T) {
	api, srv := newBotAPI(t)
	api.status = http.StatusBadGateway
	api.answer = `{"ok":false}`
	tg := NewTelegram(zerolog.Nop(), WithBaseURL(srv.URL))

	for i := 0; i < 5; i++ {
		err := tg.Send(context.Background(), ready, "x")
		assert.True(t, apperr.HasCode(err, CodeDelivery))
	}
	err := tg.Send(context.Background(), ready, "x")
	ae := apperr.As(err)
	assert.Equal(t, http.StatusServiceUnavailable, ae.HTTPStatus)
	assert.Equal(t, 5, api.calls())
}

func TestSendErrorHidesToken(t *testing.T) {
	tg := NewTelegram(zerolog.Nop(), WithBaseURL("http://127.0.0.1:1"))
	err := tg.Send(context.Background(), ready, "x")
	require.Error(t, err)
	assert.False(t, strings.Contains(err.Error(), ready.BotToken), err.Error())
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(map[string]any{
		"enabled":   true,
		"bot_token": " 123:abc ",
		"chat_id":   float64(-10042),
	})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, "-10042", cfg.ChatID)
	assert.Equal(t, "18:00", cfg.DailyReportTime)
	assert.True(t, cfg.Ready())

	assert.False(t, ConfigFrom(nil).Ready())
}
