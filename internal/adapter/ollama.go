package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/promptpipe/promptpipe/internal/domain"
)

// Ollama implements Adapter for a local Ollama daemon's chat API. No
// authentication; the endpoint defaults to the daemon's standard port.
type Ollama struct {
	config          Config
	client          *http.Client
	defaultEndpoint bool
}

// NewOllama creates an Ollama adapter, defaulting to localhost.
func NewOllama(cfg Config) *Ollama {
	def := cfg.Endpoint == ""
	if def {
		cfg.Endpoint = "http://localhost:11434"
	}
	return &Ollama{config: cfg, client: cfg.httpClient(), defaultEndpoint: def}
}

// Name returns the backend identifier.
func (a *Ollama) Name() string { return BackendOllama }

// CheckEnvironment notes when the default local endpoint is in use. Nothing
// is fatal; the daemon needs no credentials.
func (a *Ollama) CheckEnvironment() []Issue {
	if a.defaultEndpoint {
		return []Issue{Advisory("%s not set, using %s", EnvOllamaEndpoint, a.config.Endpoint)}
	}
	return nil
}

// CheckPromptShape rejects multimodal prompts and records without a model.
func (a *Ollama) CheckPromptShape(rec *domain.Record) []Issue {
	issues := requireModel(rec)
	if rec.Prompt.Kind == domain.PromptMultimodalParts {
		issues = append(issues, Fatal("record %s: %s does not accept multimodal parts", rec.DisplayID(), a.Name()))
	}
	return issues
}

// Query performs one non-streaming chat call and decorates the record with
// the reply content.
func (a *Ollama) Query(ctx context.Context, rec *domain.Record, _ int) error {
	messages, err := chatMessages(rec.Prompt)
	if err != nil {
		return &BackendError{Backend: a.Name(), Message: err.Error(), Type: ErrorTypeValidation}
	}

	body := map[string]any{
		"model":    rec.ModelName,
		"messages": messages,
		"stream":   false,
	}
	if len(rec.Parameters) > 0 {
		body["options"] = rec.Parameters
	}

	url := fmt.Sprintf("%s/api/chat", a.config.Endpoint)
	return postJSON(ctx, a.client, a.Name(), url, a.config.Headers, body, func(status int, respBody []byte) error {
		if status != http.StatusOK {
			return parseOllamaError(status, respBody)
		}

		var resp struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Done bool `json:"done"`
		}
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return &BackendError{Backend: a.Name(), StatusCode: status,
				Message: fmt.Sprintf("%v: %v", ErrInvalidResponse, err), Type: ErrorTypeBackend}
		}

		rec.Response = resp.Message.Content
		return nil
	})
}

// parseOllamaError converts the daemon's flat error field to a BackendError.
func parseOllamaError(statusCode int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}

	msg := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	return &BackendError{
		Backend:    BackendOllama,
		StatusCode: statusCode,
		Message:    msg,
		Type:       classifyErrorType(statusCode, ""),
	}
}
