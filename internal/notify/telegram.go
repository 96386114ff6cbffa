// Package notify delivers clinic reports to a Telegram chat through the Bot
// API's sendMessage method.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"medipos/m/internal/apperr"
)

const (
	DefaultAPIURL  = "https://api.telegram.org"
	defaultTimeout = 10 * time.Second

	CodeDelivery = "NOTIFICATION_FAILED"
)

var ErrNotConfigured = errors.New("telegram bot token and chat id are required")

// Config is the telegram section of the settings document.
type Config struct {
	Enabled         bool
	BotToken        string
	ChatID          string
	DailyReportTime string
}

// ConfigFrom reads a stored telegram section. Chat ids saved as numbers are
// accepted.
func ConfigFrom(section map[string]any) Config {
	cfg := Config{DailyReportTime: "18:00"}
	if section == nil {
		return cfg
	}
	cfg.Enabled, _ = section["enabled"].(bool)
	cfg.BotToken = text(section["bot_token"])
	cfg.ChatID = text(section["chat_id"])
	if t := text(section["daily_report_time"]); t != "" {
		cfg.DailyReportTime = t
	}
	return cfg
}

func (c Config) Ready() bool { return c.BotToken != "" && c.ChatID != "" }

func text(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	}
	return ""
}

// Telegram posts messages to the Bot API. Repeated transport or server
// failures open a circuit breaker so a dead endpoint does not stall callers.
type Telegram struct {
	client  *http.Client
	baseURL string
	cb      *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

type Option func(*Telegram)

func WithBaseURL(u string) Option {
	return func(t *Telegram) { t.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(t *Telegram) { t.client = c }
}

func NewTelegram(log zerolog.Logger, opts ...Option) *Telegram {
	t := &Telegram{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: DefaultAPIURL,
		log:     log.With().Str("component", "telegram").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "telegram",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		IsSuccessful: func(err error) bool {
			// a rejected token or chat id is the caller's problem, not an outage
			var re *rejectedError
			return err == nil || errors.As(err, &re)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			t.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return t
}

type sendRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// rejectedError is a 4xx answer from the Bot API.
type rejectedError struct {
	status      int
	description string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("telegram rejected message (%d): %s", e.status, e.description)
}

// Send delivers one Markdown message. Failures come back as apperr errors
// carrying the Bot API's description.
func (t *Telegram) Send(ctx context.Context, cfg Config, message string) error {
	if !cfg.Ready() {
		return apperr.Validation(ErrNotConfigured.Error()).Wrap(ErrNotConfigured)
	}
	_, err := t.cb.Execute(func() (any, error) {
		return nil, t.post(ctx, cfg, message)
	})
	if err == nil {
		t.log.Info().Str("chat_id", cfg.ChatID).Int("length", len(message)).Msg("telegram message sent")
		return nil
	}

	var re *rejectedError
	switch {
	case errors.As(err, &re):
		return apperr.New(CodeDelivery, re.description, http.StatusBadGateway).Wrap(err)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperr.New(CodeDelivery, "telegram is unavailable, try again later", http.StatusServiceUnavailable).Wrap(err)
	}
	t.log.Error().Err(err).Msg("telegram delivery failed")
	return apperr.New(CodeDelivery, err.Error(), http.StatusBadGateway).Wrap(err)
}

func (t *Telegram) post(ctx context.Context, cfg Config, message string) error {
	body, err := json.Marshal(sendRequest{ChatID: cfg.ChatID, Text: message, ParseMode: "Markdown"})
	if err != nil {
		return err
	}
	endpoint := t.baseURL + "/bot" + cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// the url embeds the bot token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode == http.StatusOK && out.OK {
		return nil
	}
	if out.Description == "" {
		out.Description = "Unknown error"
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &rejectedError{status: resp.StatusCode, description: out.Description}
	}
	return fmt.Errorf("telegram answered %d: %s", resp.StatusCode, out.Description)
}
