// Package delivery sends outbound messages over the Twilio messages
// API. Reminder dispatch and webhook replies both go through here.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/recallhq/recall/internal/errs"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioConfig holds configuration for the Twilio sender.
type TwilioConfig struct {
	// AccountSID and AuthToken authenticate against the Twilio API
	// (both required).
	AccountSID string
	AuthToken  string

	// From is the sending address, e.g. "whatsapp:+14155238886"
	// (required).
	From string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// Timeout bounds each send (default: 15s).
	Timeout time.Duration

	// Logger is an optional structured logger.
	Logger *slog.Logger
}

// TwilioSender sends messages through Twilio.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTwilioSender creates a Twilio-backed sender.
func NewTwilioSender(cfg TwilioConfig) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errs.Validation("twilio credentials are required", nil)
	}
	if cfg.From == "" {
		return nil, errs.Validation("twilio sending address is required", nil)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultTwilioBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TwilioSender{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "twilio"),
	}, nil
}

// Send delivers body to a channel address. Non-2xx responses are
// DeliveryErrors carrying Twilio's error message when one is present.
func (t *TwilioSender) Send(ctx context.Context, to, body string) error {
	if to == "" {
		return errs.Validation("recipient address is required", nil)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return errs.Delivery("build twilio request", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errs.Delivery("twilio request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		message := twilioErrorMessage(respBody)
		t.logger.Error("twilio send failed",
			"to", to,
			"status", resp.StatusCode,
			"message", message)
		return errs.Delivery(fmt.Sprintf("twilio send: status %d: %s", resp.StatusCode, message), nil)
	}

	t.logger.Debug("message sent", "to", to, "body_length", len(body))
	return nil
}

func twilioErrorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}
