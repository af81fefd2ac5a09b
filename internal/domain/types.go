package domain

import "strings"

// Roles for chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContentPart is one element of a multi-part message: either text or an
// inline image carried as a data URL.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image,omitempty"`
}

// ChatMessage is a provider-neutral conversation turn. A message carries
// either plain Content or an ordered Parts list, never both. Immutable once
// produced by the normalizer.
type ChatMessage struct {
	Role    string        `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// HasParts reports whether the message uses multi-part content.
func (m ChatMessage) HasParts() bool {
	return len(m.Parts) > 0
}

// TextContent extracts the plain text of a message, joining text parts.
func (m ChatMessage) TextContent() string {
	if !m.HasParts() {
		return m.Content
	}
	var parts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentBlock represents a structured content block in a provider message.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// Signature accompanies thinking blocks; it must be replayed verbatim
	// when a thinking block is included in a continuation turn.
	Signature string `json:"signature,omitempty"`

	ToolUseID  string         `json:"tool_use_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolResult string         `json:"tool_result,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`

	// ImageURL carries an inline image as a data URL for image blocks.
	ImageURL string `json:"image_url,omitempty"`
}

// ProviderMessage is a role plus content blocks, the shape the orchestrator
// appends to per round.
type ProviderMessage struct {
	Role   string
	Text   string
	Blocks []ContentBlock
}

// HasBlocks reports whether the message has structured content blocks.
func (m ProviderMessage) HasBlocks() bool {
	return len(m.Blocks) > 0
}

// TextContent extracts the plain text content from a provider message.
func (m ProviderMessage) TextContent() string {
	if !m.HasBlocks() {
		return m.Text
	}
	var parts []string
	for _, b := range m.Blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasToolUse reports whether any block is a pending tool call.
func HasToolUse(blocks []ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}

// SourceRecord is citation metadata accumulated over one session. Records are
// deduplicated by normalized URL; the first sighting wins.
type SourceRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Favicon string `json:"favicon,omitempty"`
	Type    string `json:"type"`
}

// Source record origins.
const (
	SourceWebSearch  = "web_search"
	SourceWebFetch   = "web_fetch"
	SourcePerplexity = "perplexity"
)
