package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/promptpipe/promptpipe/internal/domain"
)

// OpenAI implements Adapter for OpenAI-compatible chat/completions
// endpoints. It handles plain-text and turn-list prompts, bearer
// authentication, and OpenAI's JSON error format.
type OpenAI struct {
	config Config
	client *http.Client
}

// NewOpenAI creates an OpenAI adapter, defaulting to the production API
// when no endpoint is configured.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	return &OpenAI{config: cfg, client: cfg.httpClient()}
}

// Name returns the backend identifier.
func (a *OpenAI) Name() string { return BackendOpenAI }

// CheckEnvironment reports missing credentials as fatal.
func (a *OpenAI) CheckEnvironment() []Issue {
	var issues []Issue
	if a.config.APIKey == "" {
		issues = append(issues, Fatal("%s is not set", EnvOpenAIKey))
	}
	return issues
}

// CheckPromptShape rejects multimodal prompts and records without a model.
func (a *OpenAI) CheckPromptShape(rec *domain.Record) []Issue {
	issues := requireModel(rec)
	if rec.Prompt.Kind == domain.PromptMultimodalParts {
		issues = append(issues, Fatal("record %s: %s does not accept multimodal parts", rec.DisplayID(), a.Name()))
	}
	return issues
}

// Query performs one chat/completions call and decorates the record with
// the first choice's content.
func (a *OpenAI) Query(ctx context.Context, rec *domain.Record, _ int) error {
	messages, err := chatMessages(rec.Prompt)
	if err != nil {
		return &BackendError{Backend: a.Name(), Message: err.Error(), Type: ErrorTypeValidation}
	}

	body := map[string]any{
		"model":    rec.ModelName,
		"messages": messages,
	}
	applyParameters(body, rec.Parameters)

	headers := map[string]string{
		"Authorization":   fmt.Sprintf("Bearer %s", a.config.APIKey),
		"Idempotency-Key": uuid.NewString(),
	}
	for k, v := range a.config.Headers {
		headers[k] = v
	}

	url := fmt.Sprintf("%s/chat/completions", a.config.Endpoint)
	return postJSON(ctx, a.client, a.Name(), url, headers, body, func(status int, respBody []byte) error {
		if status != http.StatusOK {
			return parseOpenAIError(a.Name(), status, respBody)
		}

		var resp struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return &BackendError{Backend: a.Name(), StatusCode: status,
				Message: fmt.Sprintf("%v: %v", ErrInvalidResponse, err), Type: ErrorTypeBackend}
		}
		if len(resp.Choices) == 0 {
			return &BackendError{Backend: a.Name(), StatusCode: status,
				Message: fmt.Sprintf("%v: no choices", ErrInvalidResponse), Type: ErrorTypeBackend}
		}

		rec.Response = resp.Choices[0].Message.Content
		return nil
	})
}

// parseOpenAIError converts OpenAI's JSON error envelope to a BackendError.
// TGI reuses it since its error format is OpenAI-shaped.
func parseOpenAIError(backend string, statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &BackendError{
			Backend:    backend,
			StatusCode: statusCode,
			Message:    errResp.Error.Message,
			Code:       errResp.Error.Code,
			Type:       classifyErrorType(statusCode, errResp.Error.Type),
		}
	}

	return &BackendError{
		Backend:    backend,
		StatusCode: statusCode,
		Message:    string(body),
		Type:       classifyErrorType(statusCode, ""),
	}
}
