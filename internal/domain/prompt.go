package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PromptKind tags the shape of a record's prompt payload.
// The shape is resolved once at ingestion; adapters switch on it to build
// provider-specific request bodies without re-inspecting raw JSON.
type PromptKind string

const (
	// PromptPlainText is a single untyped string prompt.
	PromptPlainText PromptKind = "text"

	// PromptTurnList is an ordered list of chat turns with roles.
	PromptTurnList PromptKind = "turns"

	// PromptMultimodalParts is an ordered list of text and media parts.
	PromptMultimodalParts PromptKind = "parts"
)

// Prompt shape errors surfaced at ingestion.
var (
	ErrEmptyPrompt        = errors.New("prompt is empty")
	ErrUnknownPromptShape = errors.New("unrecognized prompt shape")
)

// Turn is one message of a chat-style prompt.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Part is one element of a multimodal prompt: either inline text or a
// reference to a local media file.
type Part struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MediaPath string `json:"media,omitempty"`
	MIMEType  string `json:"mime_type,omitempty"`
}

// Part type discriminators.
const (
	PartText  = "text"
	PartMedia = "media"
)

// Prompt is a tagged union over the known prompt shapes. It unmarshals from
// the three wire forms (string, turn array, part array) and marshals back to
// the same form it was parsed from, so input snapshots stay faithful.
type Prompt struct {
	Kind  PromptKind
	Text  string
	Turns []Turn
	Parts []Part
}

// UnmarshalJSON resolves the prompt shape from raw JSON. A bare string is
// plain text; an array is a turn list when its objects carry "role", and
// multimodal parts when they carry "type". Anything else is a shape error,
// which callers treat as a structural (line-level) failure.
func (p *Prompt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			return ErrEmptyPrompt
		}
		*p = Prompt{Kind: PromptPlainText, Text: s}
		return nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return fmt.Errorf("%w: not a string or array", ErrUnknownPromptShape)
	}
	if len(elems) == 0 {
		return ErrEmptyPrompt
	}

	// Probe the first element for its discriminator.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(elems[0], &probe); err != nil {
		return fmt.Errorf("%w: array elements must be objects", ErrUnknownPromptShape)
	}

	switch {
	case probe["role"] != nil:
		var turns []Turn
		if err := json.Unmarshal(data, &turns); err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownPromptShape, err)
		}
		for i, t := range turns {
			if t.Role == "" || t.Content == "" {
				return fmt.Errorf("%w: turn %d missing role or content", ErrUnknownPromptShape, i)
			}
		}
		*p = Prompt{Kind: PromptTurnList, Turns: turns}
		return nil

	case probe["type"] != nil:
		var parts []Part
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownPromptShape, err)
		}
		for i, part := range parts {
			switch part.Type {
			case PartText:
				if part.Text == "" {
					return fmt.Errorf("%w: text part %d is empty", ErrUnknownPromptShape, i)
				}
			case PartMedia:
				if part.MediaPath == "" {
					return fmt.Errorf("%w: media part %d missing path", ErrUnknownPromptShape, i)
				}
			default:
				return fmt.Errorf("%w: part %d has unknown type %q", ErrUnknownPromptShape, i, part.Type)
			}
		}
		*p = Prompt{Kind: PromptMultimodalParts, Parts: parts}
		return nil
	}

	return fmt.Errorf("%w: array elements carry neither role nor type", ErrUnknownPromptShape)
}

// MarshalJSON writes the prompt back in its original wire form.
func (p Prompt) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PromptPlainText:
		return json.Marshal(p.Text)
	case PromptTurnList:
		return json.Marshal(p.Turns)
	case PromptMultimodalParts:
		return json.Marshal(p.Parts)
	default:
		return nil, ErrUnknownPromptShape
	}
}

// Excerpt returns the leading runes of the prompt's textual content, capped
// at n, for one-line log entries.
func (p Prompt) Excerpt(n int) string {
	var s string
	switch p.Kind {
	case PromptPlainText:
		s = p.Text
	case PromptTurnList:
		if len(p.Turns) > 0 {
			s = p.Turns[len(p.Turns)-1].Content
		}
	case PromptMultimodalParts:
		for _, part := range p.Parts {
			if part.Type == PartText {
				s = part.Text
				break
			}
		}
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
