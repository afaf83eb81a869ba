package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/promptpipe/promptpipe/internal/domain"
)

// TGI implements Adapter for Hugging Face Text Generation Inference servers
// exposing the OpenAI-shaped chat endpoint. The endpoint is always explicit;
// the token is optional for unauthenticated deployments.
type TGI struct {
	config Config
	client *http.Client
}

// NewTGI creates a TGI adapter. There is no sensible default endpoint.
func NewTGI(cfg Config) *TGI {
	return &TGI{config: cfg, client: cfg.httpClient()}
}

// Name returns the backend identifier.
func (a *TGI) Name() string { return BackendTGI }

// CheckEnvironment requires an endpoint; a missing token is advisory since
// self-hosted TGI commonly runs without auth.
func (a *TGI) CheckEnvironment() []Issue {
	var issues []Issue
	if a.config.Endpoint == "" {
		issues = append(issues, Fatal("%s is not set", EnvTGIEndpoint))
	}
	if a.config.APIKey == "" {
		issues = append(issues, Advisory("%s not set, requests will be unauthenticated", EnvTGIToken))
	}
	return issues
}

// CheckPromptShape rejects multimodal prompts. TGI serves one model per
// deployment, so model_name may be blank.
func (a *TGI) CheckPromptShape(rec *domain.Record) []Issue {
	if rec.Prompt.Kind == domain.PromptMultimodalParts {
		return []Issue{Fatal("record %s: %s does not accept multimodal parts", rec.DisplayID(), a.Name())}
	}
	return nil
}

// Query performs one chat/completions call against the TGI server.
func (a *TGI) Query(ctx context.Context, rec *domain.Record, _ int) error {
	if a.config.Endpoint == "" {
		return &BackendError{Backend: a.Name(), Message: ErrMissingEndpoint.Error(), Type: ErrorTypeValidation}
	}

	messages, err := chatMessages(rec.Prompt)
	if err != nil {
		return &BackendError{Backend: a.Name(), Message: err.Error(), Type: ErrorTypeValidation}
	}

	model := rec.ModelName
	if model == "" {
		model = "tgi"
	}
	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	applyParameters(body, rec.Parameters)

	headers := map[string]string{
		"Idempotency-Key": uuid.NewString(),
	}
	if a.config.APIKey != "" {
		headers["Authorization"] = fmt.Sprintf("Bearer %s", a.config.APIKey)
	}
	for k, v := range a.config.Headers {
		headers[k] = v
	}

	url := fmt.Sprintf("%s/v1/chat/completions", a.config.Endpoint)
	return postJSON(ctx, a.client, a.Name(), url, headers, body, func(status int, respBody []byte) error {
		if status != http.StatusOK {
			return parseOpenAIError(a.Name(), status, respBody)
		}

		var resp struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
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
