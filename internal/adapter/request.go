package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/promptpipe/promptpipe/internal/domain"
)

// chatMessages converts a prompt into OpenAI-style role/content messages.
// Multimodal parts have no chat-message rendering here; backends that accept
// them convert separately.
func chatMessages(p domain.Prompt) ([]map[string]any, error) {
	switch p.Kind {
	case domain.PromptPlainText:
		return []map[string]any{{"role": "user", "content": p.Text}}, nil
	case domain.PromptTurnList:
		msgs := make([]map[string]any, 0, len(p.Turns))
		for _, t := range p.Turns {
			msgs = append(msgs, map[string]any{"role": t.Role, "content": t.Content})
		}
		return msgs, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPromptShape, p.Kind)
	}
}

// applyParameters overlays record generation options onto a request body.
// Parameters are opaque to the dispatcher; collisions resolve in the
// record's favor.
func applyParameters(body, params map[string]any) {
	for k, v := range params {
		body[k] = v
	}
}

// postJSON marshals body, issues the request, and hands the response to
// parse. All transport-level failures are wrapped into *BackendError so the
// dispatcher sees one uniform failure channel.
func postJSON(ctx context.Context, client *http.Client, backend, url string,
	headers map[string]string, body map[string]any,
	parse func(status int, body []byte) error,
) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &BackendError{Backend: backend, Message: fmt.Sprintf("marshal request: %v", err), Type: ErrorTypeValidation}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &BackendError{Backend: backend, Message: fmt.Sprintf("build request: %v", err), Type: ErrorTypeValidation}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return wrapTransportError(backend, err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return wrapTransportError(backend, err)
	}

	return parse(resp.StatusCode, buf.Bytes())
}

// requireModel is the shape check shared by backends that cannot default
// the model.
func requireModel(rec *domain.Record) []Issue {
	if rec.ModelName == "" {
		return []Issue{Fatal("record %s: model_name is required", rec.DisplayID())}
	}
	return nil
}
