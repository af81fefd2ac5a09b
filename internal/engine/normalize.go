package engine

import (
	"fmt"
	"strings"

	"github.com/fernlabs/streamd/internal/domain"
)

// Request is the normalized inbound chat request, decoded from the daemon's
// JSON body.
type Request struct {
	Messages     []domain.ChatMessage `json:"messages"`
	ModelID      string               `json:"modelId"`
	SystemPrompt string               `json:"systemPrompt"`
	Options      Options              `json:"options"`
}

// Options are the per-request feature switches.
type Options struct {
	EnableThinking bool   `json:"enableThinking"`
	ThinkingBudget int    `json:"thinkingBudget"`
	EnableTools    bool   `json:"enableTools"`
	WritingStyle   string `json:"writingStyle"`
}

// Normalized is the validated, provider-neutral form of a request.
type Normalized struct {
	Messages []domain.ChatMessage
	System   string
}

// Normalize validates the request and merges its messages into an ordered
// provider-neutral list: system turns fold into the system prompt,
// consecutive same-role turns collapse into one, empty turns are dropped.
func Normalize(req Request) (Normalized, error) {
	if len(req.Messages) == 0 {
		return Normalized{}, fmt.Errorf("request has no messages")
	}

	systemParts := []string{}
	if req.SystemPrompt != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}

	var out []domain.ChatMessage
	for i, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			if text := m.TextContent(); text != "" {
				systemParts = append(systemParts, text)
			}
			continue
		case domain.RoleUser, domain.RoleAssistant:
		default:
			return Normalized{}, fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}

		if m.Content == "" && !m.HasParts() {
			continue
		}

		if len(out) > 0 && out[len(out)-1].Role == m.Role {
			out[len(out)-1] = mergeMessages(out[len(out)-1], m)
			continue
		}
		out = append(out, m)
	}

	if len(out) == 0 {
		return Normalized{}, fmt.Errorf("request has no user or assistant content")
	}

	if req.Options.WritingStyle != "" {
		systemParts = append(systemParts, "Writing style: "+req.Options.WritingStyle)
	}

	return Normalized{
		Messages: out,
		System:   strings.Join(systemParts, "\n\n"),
	}, nil
}

// mergeMessages collapses two consecutive same-role turns. Plain text joins
// with a blank line; if either side carries parts, both are lifted to parts
// and concatenated in order.
func mergeMessages(a, b domain.ChatMessage) domain.ChatMessage {
	if !a.HasParts() && !b.HasParts() {
		return domain.ChatMessage{Role: a.Role, Content: a.Content + "\n\n" + b.Content}
	}
	parts := append(asParts(a), asParts(b)...)
	return domain.ChatMessage{Role: a.Role, Parts: parts}
}

func asParts(m domain.ChatMessage) []domain.ContentPart {
	if m.HasParts() {
		return m.Parts
	}
	if m.Content == "" {
		return nil
	}
	return []domain.ContentPart{{Type: "text", Text: m.Content}}
}
