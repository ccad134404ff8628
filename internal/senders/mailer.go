package senders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"tenderwatch/internal/types"
)

// mailerAPIBase is the default transactional mail API base URL.
// Overridable in tests via MailerClientConfig.BaseURL.
const mailerAPIBase = "https://api.sendgrid.com"

// MailerClientConfig holds the configuration for creating a MailerClient.
type MailerClientConfig struct {
	APIKey  types.SecretString
	BaseURL string // Override for testing; defaults to mailerAPIBase
	Logger  types.Logger
}

// MailerClient implements EmailProvider by calling the provider's v3 mail
// send API through BaseClient, so every send inherits the circuit breaker
// and retry behavior and tests can point it at an httptest server.
type MailerClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	logger  types.Logger
}

// Compile-time assertion that MailerClient implements EmailProvider.
var _ EmailProvider = (*MailerClient)(nil)

// NewMailerClient creates a MailerClient with a default BaseClient.
func NewMailerClient(httpClient *http.Client, cfg MailerClientConfig) *MailerClient {
	return NewMailerClientWithBase(
		NewBaseClient(httpClient, "mailer", DefaultHTTPRetryPolicy()),
		cfg,
	)
}

// NewMailerClientWithBase creates a MailerClient with a caller-provided
// BaseClient. Useful in tests to disable retries or inject a sleep function.
func NewMailerClientWithBase(base *BaseClient, cfg MailerClientConfig) *MailerClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = mailerAPIBase
	}

	return &MailerClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  cfg.Logger,
	}
}

// mailPayload is the provider's v3 mail/send JSON request body.
type mailPayload struct {
	Personalizations []mailPersonalization `json:"personalizations"`
	From             mailAddress           `json:"from"`
	Subject          string                `json:"subject"`
	Content          []mailContent         `json:"content"`
	CustomArgs       map[string]string     `json:"custom_args,omitempty"`
}

type mailPersonalization struct {
	To []mailAddress `json:"to"`
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// SendEmail transmits the message and returns the provider message ID from
// the X-Message-Id response header. 4xx responses other than 429 are not
// retried by BaseClient and map to an upstream provider error here.
func (m *MailerClient) SendEmail(ctx context.Context, msg EmailMessage) (EmailResult, error) {
	payload := mailPayload{
		Personalizations: []mailPersonalization{
			{To: []mailAddress{{Email: msg.To.Address, Name: msg.To.Name}}},
		},
		From:    mailAddress{Email: msg.From.Address, Name: msg.From.Name},
		Subject: msg.Subject,
		Content: []mailContent{{Type: "text/plain", Value: msg.Text}},
	}
	if msg.ReferenceID != "" {
		payload.CustomArgs = map[string]string{"reference_id": msg.ReferenceID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return EmailResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal mail payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return EmailResult{}, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create mail request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey.Unmask())

	resp, err := m.base.Do(req)
	if err != nil {
		return EmailResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted {
		result := EmailResult{MessageID: resp.Header.Get("X-Message-Id")}
		m.logger.Info("email accepted by provider",
			"message_id", result.MessageID,
			"reference_id", msg.ReferenceID,
		)
		return result, nil
	}

	return EmailResult{}, types.NewAppError(
		types.ErrCodeUpstreamProvider,
		fmt.Sprintf("mail provider rejected send with status %d", resp.StatusCode),
		nil,
	)
}
