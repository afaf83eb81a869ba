package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/promptpipe/promptpipe/internal/domain"
)

// Anthropic implements Adapter for the Anthropic messages API. System turns
// are lifted out of the message list into the separate system field, per
// Anthropic's format.
type Anthropic struct {
	config Config
	client *http.Client
}

// NewAnthropic creates an Anthropic adapter, defaulting to the production
// API when no endpoint is configured.
func NewAnthropic(cfg Config) *Anthropic {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	return &Anthropic{config: cfg, client: cfg.httpClient()}
}

// Name returns the backend identifier.
func (a *Anthropic) Name() string { return BackendAnthropic }

// CheckEnvironment reports missing credentials as fatal.
func (a *Anthropic) CheckEnvironment() []Issue {
	var issues []Issue
	if a.config.APIKey == "" {
		issues = append(issues, Fatal("%s is not set", EnvAnthropicKey))
	}
	return issues
}

// CheckPromptShape rejects multimodal prompts and records without a model.
func (a *Anthropic) CheckPromptShape(rec *domain.Record) []Issue {
	issues := requireModel(rec)
	if rec.Prompt.Kind == domain.PromptMultimodalParts {
		issues = append(issues, Fatal("record %s: %s does not accept multimodal parts", rec.DisplayID(), a.Name()))
	}
	return issues
}

// Query performs one messages call and decorates the record with the
// response's first text block.
func (a *Anthropic) Query(ctx context.Context, rec *domain.Record, _ int) error {
	var system string
	var messages []map[string]any

	switch rec.Prompt.Kind {
	case domain.PromptPlainText:
		messages = []map[string]any{{"role": "user", "content": rec.Prompt.Text}}
	case domain.PromptTurnList:
		for _, t := range rec.Prompt.Turns {
			if t.Role == "system" {
				system = t.Content
				continue
			}
			messages = append(messages, map[string]any{"role": t.Role, "content": t.Content})
		}
	default:
		return &BackendError{Backend: a.Name(),
			Message: fmt.Sprintf("%v: %s", ErrUnsupportedPromptShape, rec.Prompt.Kind), Type: ErrorTypeValidation}
	}

	body := map[string]any{
		"model":      rec.ModelName,
		"messages":   messages,
		"max_tokens": 1024,
	}
	if system != "" {
		body["system"] = system
	}
	applyParameters(body, rec.Parameters)

	headers := map[string]string{
		"x-api-key":         a.config.APIKey,
		"anthropic-version": "2023-06-01",
	}
	for k, v := range a.config.Headers {
		headers[k] = v
	}

	url := fmt.Sprintf("%s/messages", a.config.Endpoint)
	return postJSON(ctx, a.client, a.Name(), url, headers, body, func(status int, respBody []byte) error {
		if status != http.StatusOK {
			return parseAnthropicError(status, respBody)
		}

		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			StopReason string `json:"stop_reason"`
		}
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return &BackendError{Backend: a.Name(), StatusCode: status,
				Message: fmt.Sprintf("%v: %v", ErrInvalidResponse, err), Type: ErrorTypeBackend}
		}

		for _, block := range resp.Content {
			if block.Type == "text" {
				rec.Response = block.Text
				return nil
			}
		}
		return &BackendError{Backend: a.Name(), StatusCode: status,
			Message: fmt.Sprintf("%v: no text content", ErrInvalidResponse), Type: ErrorTypeBackend}
	})
}

// parseAnthropicError converts Anthropic's JSON error envelope to a
// BackendError.
func parseAnthropicError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &BackendError{
			Backend:    BackendAnthropic,
			StatusCode: statusCode,
			Message:    errResp.Error.Message,
			Code:       errResp.Error.Type,
			Type:       classifyErrorType(statusCode, errResp.Error.Type),
		}
	}

	return &BackendError{
		Backend:    BackendAnthropic,
		StatusCode: statusCode,
		Message:    string(body),
		Type:       classifyErrorType(statusCode, ""),
	}
}
