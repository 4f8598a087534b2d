package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/template"
)

const defaultWebhookTimeout = 30 * time.Second

var (
	ErrWebhookURLInvalid = errors.New("invalid webhook url")
	ErrWebhookStatus     = errors.New("webhook returned an error status")
)

// WebhookAction posts to an outbound HTTP endpoint. Without a body param the
// request carries a JSON snapshot of the subscriber and cursor.
type WebhookAction struct {
	client *http.Client
	logger *slog.Logger
}

func NewWebhookAction(client *http.Client, logger *slog.Logger) *WebhookAction {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}

	return &WebhookAction{client: client, logger: logger.With("module", "webhook_action")}
}

func (*WebhookAction) Type() models.ActionType { return models.ActionSendWebhook }

func (*WebhookAction) Description() string {
	return "Sends an HTTP request to an external endpoint."
}

func (*WebhookAction) Schema() map[string]any {
	return objectSchema([]string{"url"}, map[string]any{
		"url": nonEmptyString,
		"method": map[string]any{
			"type": "string",
			"enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"},
		},
		"headers": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
		"body": map[string]any{"type": "string"},
	})
}

type webhookPayload struct {
	WorkflowID  string            `json:"workflow_id"`
	ExecutionID string            `json:"execution_id"`
	StepID      string            `json:"step_id,omitempty"`
	Subscriber  webhookSubscriber `json:"subscriber"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	SentAt      time.Time         `json:"sent_at"`
}

type webhookSubscriber struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Name      string   `json:"name,omitempty"`
	LeadScore int      `json:"lead_score"`
	Tags      []string `json:"tags,omitempty"`
}

func (a *WebhookAction) Execute(ctx context.Context, req Request) error {
	target := stringParam(req, "url")

	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrWebhookURLInvalid, target)
	}

	method := strings.ToUpper(stringParam(req, "method"))
	if method == "" {
		method = http.MethodPost
	}

	body, contentType, err := a.buildBody(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, parsed.String(), body)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)

	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	for key, value := range stringMapParam(req, "headers") {
		httpReq.Header.Set(key, value)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	a.logger.DebugContext(ctx, "webhook delivered",
		"status", resp.StatusCode, "execution_id", req.ExecutionID)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}

	return nil
}

func (a *WebhookAction) buildBody(req Request) (io.Reader, string, error) {
	if raw, ok := req.Params["body"].(string); ok && raw != "" {
		rendered := template.Personalize(raw, req.Subscriber, req.Metadata)

		contentType := "text/plain; charset=utf-8"
		if json.Valid([]byte(rendered)) {
			contentType = "application/json"
		}

		return strings.NewReader(rendered), contentType, nil
	}

	payload := webhookPayload{
		WorkflowID:  req.WorkflowID,
		ExecutionID: req.ExecutionID,
		StepID:      req.StepID,
		Metadata:    req.Metadata,
		SentAt:      time.Now().UTC(),
	}

	if s := req.Subscriber; s != nil {
		payload.Subscriber = webhookSubscriber{
			ID:        s.ID,
			Email:     s.Email,
			Name:      s.DisplayName(),
			LeadScore: s.LeadScore,
			Tags:      s.Tags,
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	return bytes.NewReader(encoded), "application/json", nil
}
