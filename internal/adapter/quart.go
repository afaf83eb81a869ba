package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/promptpipe/promptpipe/internal/domain"
)

// Quart implements Adapter for the bespoke HTTP generation endpoint: a bare
// POST taking {"prompt": ..., ...options} and returning {"response": ...}.
type Quart struct {
	config Config
	client *http.Client
}

// NewQuart creates an adapter for the custom endpoint.
func NewQuart(cfg Config) *Quart {
	return &Quart{config: cfg, client: cfg.httpClient()}
}

// Name returns the backend identifier.
func (a *Quart) Name() string { return BackendQuart }

// CheckEnvironment requires the endpoint to be configured.
func (a *Quart) CheckEnvironment() []Issue {
	if a.config.Endpoint == "" {
		return []Issue{Fatal("%s is not set", EnvQuartEndpoint)}
	}
	return nil
}

// CheckPromptShape accepts plain text only; the endpoint has no notion of
// turns or media.
func (a *Quart) CheckPromptShape(rec *domain.Record) []Issue {
	if rec.Prompt.Kind != domain.PromptPlainText {
		return []Issue{Fatal("record %s: %s accepts plain-text prompts only", rec.DisplayID(), a.Name())}
	}
	return nil
}

// Query performs one generation call and decorates the record with the
// response field.
func (a *Quart) Query(ctx context.Context, rec *domain.Record, _ int) error {
	if a.config.Endpoint == "" {
		return &BackendError{Backend: a.Name(), Message: ErrMissingEndpoint.Error(), Type: ErrorTypeValidation}
	}

	body := map[string]any{"prompt": rec.Prompt.Text}
	if rec.ModelName != "" {
		body["model"] = rec.ModelName
	}
	applyParameters(body, rec.Parameters)

	return postJSON(ctx, a.client, a.Name(), a.config.Endpoint, a.config.Headers, body, func(status int, respBody []byte) error {
		if status != http.StatusOK {
			return &BackendError{
				Backend:    a.Name(),
				StatusCode: status,
				Message:    string(respBody),
				Type:       classifyErrorType(status, ""),
			}
		}

		var resp struct {
			Response string `json:"response"`
		}
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return &BackendError{Backend: a.Name(), StatusCode: status,
				Message: fmt.Sprintf("%v: %v", ErrInvalidResponse, err), Type: ErrorTypeBackend}
		}
		if resp.Response == "" {
			return &BackendError{Backend: a.Name(), StatusCode: status,
				Message: fmt.Sprintf("%v: missing response field", ErrInvalidResponse), Type: ErrorTypeBackend}
		}

		rec.Response = resp.Response
		return nil
	})
}
