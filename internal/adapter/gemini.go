package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/promptpipe/promptpipe/internal/domain"
)

// Gemini implements Adapter for Google's generateContent API. It is the one
// backend that accepts multimodal parts; local media files are inlined as
// base64 inline_data.
type Gemini struct {
	config Config
	client *http.Client
}

// NewGemini creates a Gemini adapter, defaulting to the generative language
// API when no endpoint is configured.
func NewGemini(cfg Config) *Gemini {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &Gemini{config: cfg, client: cfg.httpClient()}
}

// Name returns the backend identifier.
func (a *Gemini) Name() string { return BackendGemini }

// CheckEnvironment reports missing credentials as fatal.
func (a *Gemini) CheckEnvironment() []Issue {
	var issues []Issue
	if a.config.APIKey == "" {
		issues = append(issues, Fatal("%s is not set", EnvGeminiKey))
	}
	return issues
}

// CheckPromptShape verifies the model is set and that every referenced
// media file exists, so broken paths fail before any network call.
func (a *Gemini) CheckPromptShape(rec *domain.Record) []Issue {
	issues := requireModel(rec)
	if rec.Prompt.Kind != domain.PromptMultimodalParts {
		return issues
	}
	for _, part := range rec.Prompt.Parts {
		if part.Type != domain.PartMedia {
			continue
		}
		if _, err := os.Stat(part.MediaPath); err != nil {
			issues = append(issues, Fatal("record %s: media file %q: %v", rec.DisplayID(), part.MediaPath, err))
		}
		if part.MIMEType == "" {
			issues = append(issues, Fatal("record %s: media part %q missing mime_type", rec.DisplayID(), part.MediaPath))
		}
	}
	return issues
}

// Query performs one generateContent call and decorates the record with the
// first candidate's text.
func (a *Gemini) Query(ctx context.Context, rec *domain.Record, _ int) error {
	contents, system, err := a.buildContents(rec.Prompt)
	if err != nil {
		return &BackendError{Backend: a.Name(), Message: err.Error(), Type: ErrorTypeValidation}
	}

	body := map[string]any{"contents": contents}
	if system != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": system}},
		}
	}
	if len(rec.Parameters) > 0 {
		body["generationConfig"] = rec.Parameters
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.config.Endpoint, rec.ModelName, a.config.APIKey)
	return postJSON(ctx, a.client, a.Name(), url, a.config.Headers, body, func(status int, respBody []byte) error {
		if status != http.StatusOK {
			return parseGeminiError(status, respBody)
		}

		var resp struct {
			Candidates []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
				FinishReason string `json:"finishReason"`
			} `json:"candidates"`
		}
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return &BackendError{Backend: a.Name(), StatusCode: status,
				Message: fmt.Sprintf("%v: %v", ErrInvalidResponse, err), Type: ErrorTypeBackend}
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return &BackendError{Backend: a.Name(), StatusCode: status,
				Message: fmt.Sprintf("%v: no candidates", ErrInvalidResponse), Type: ErrorTypeBackend}
		}

		rec.Response = resp.Candidates[0].Content.Parts[0].Text
		return nil
	})
}

// buildContents renders any prompt shape into Gemini contents, returning a
// separate system instruction when the prompt carried system turns.
func (a *Gemini) buildContents(p domain.Prompt) (contents []map[string]any, system string, err error) {
	switch p.Kind {
	case domain.PromptPlainText:
		contents = []map[string]any{{
			"role":  "user",
			"parts": []map[string]any{{"text": p.Text}},
		}}

	case domain.PromptTurnList:
		for _, t := range p.Turns {
			if t.Role == "system" {
				system = t.Content
				continue
			}
			role := t.Role
			if role == "assistant" {
				role = "model"
			}
			contents = append(contents, map[string]any{
				"role":  role,
				"parts": []map[string]any{{"text": t.Content}},
			})
		}

	case domain.PromptMultimodalParts:
		parts := make([]map[string]any, 0, len(p.Parts))
		for _, part := range p.Parts {
			switch part.Type {
			case domain.PartText:
				parts = append(parts, map[string]any{"text": part.Text})
			case domain.PartMedia:
				data, readErr := os.ReadFile(part.MediaPath)
				if readErr != nil {
					return nil, "", fmt.Errorf("read media %q: %w", part.MediaPath, readErr)
				}
				parts = append(parts, map[string]any{
					"inline_data": map[string]any{
						"mime_type": part.MIMEType,
						"data":      base64.StdEncoding.EncodeToString(data),
					},
				})
			}
		}
		contents = []map[string]any{{"role": "user", "parts": parts}}

	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedPromptShape, p.Kind)
	}

	return contents, system, nil
}

// parseGeminiError converts Google's JSON error envelope to a BackendError.
func parseGeminiError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &BackendError{
			Backend:    BackendGemini,
			StatusCode: statusCode,
			Message:    errResp.Error.Message,
			Code:       errResp.Error.Status,
			Type:       classifyErrorType(statusCode, errResp.Error.Status),
		}
	}

	return &BackendError{
		Backend:    BackendGemini,
		StatusCode: statusCode,
		Message:    string(body),
		Type:       classifyErrorType(statusCode, ""),
	}
}
