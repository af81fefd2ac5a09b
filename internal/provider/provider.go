// Package provider holds the model-provider adapters: the Anthropic Messages
// streaming client, the Perplexity chat-completions streaming client, the
// router that picks between them, and the shared API error taxonomy.
package provider

import (
	"net/http"
	"time"

	"github.com/fernlabs/streamd/internal/domain"
)

// streamHTTPClient is shared across all streaming API calls. A single shared
// Transport reuses connections and avoids ephemeral port exhaustion.
// DisableCompression prevents gzip-over-chunked encoding failures on SSE
// bodies. TLSNextProto is left nil so Go auto-negotiates HTTP/2.
var streamHTTPClient = &http.Client{
	Transport: &http.Transport{
		TLSHandshakeTimeout:   30 * time.Second,
		ResponseHeaderTimeout: 2 * time.Minute,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   4,
	},
}

// CloseIdleConnections drops all idle connections from the shared HTTP
// transport. Call before retrying after a stream error so the next attempt
// gets a fresh TCP/TLS connection instead of reusing a stale pooled one.
func CloseIdleConnections() {
	streamHTTPClient.CloseIdleConnections()
}

// ---------------------------------------------------------------------------
// Provider-agnostic tool types
// ---------------------------------------------------------------------------

// ToolSpec is a provider-agnostic client tool definition. Each adapter
// converts these to its own wire format.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]ToolProp
	Required    []string
}

// ToolProp describes a single tool input property.
type ToolProp struct {
	Type        string
	Description string
	Enum        []string
	// Items describes the element schema when Type is "array".
	Items *ToolProp
	// Properties describes nested object properties.
	Properties map[string]ToolProp
	// Required lists required fields when this prop describes an object.
	Required []string
}

// ServerToolSpec describes a tool executed on the provider side. BetaFlag is
// the anthropic-beta header value the tool requires, if any.
type ServerToolSpec struct {
	Type     string
	Name     string
	BetaFlag string
	MaxUses  int
}

// Usage contains token accounting for one streamed model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ---------------------------------------------------------------------------
// Streaming turn contract
// ---------------------------------------------------------------------------

// TurnRequest is one model call: the full message history plus the tool
// surface and generation parameters.
type TurnRequest struct {
	Model     string
	Messages  []domain.ProviderMessage
	System    string
	MaxTokens int
	// ThinkingBudget enables extended thinking when > 0 (token budget).
	ThinkingBudget int
	Tools          []ToolSpec
	ServerTools    []ServerToolSpec
}

// TurnEvents carries the streaming callbacks for one turn. Callbacks are
// invoked synchronously from the stream-reading goroutine; a nil callback is
// skipped.
type TurnEvents struct {
	OnText     func(delta string)
	OnThinking func(delta string)
	// OnServerToolUse announces a provider-executed tool invocation as its
	// content block opens, before any result or trailing text arrives.
	OnServerToolUse func(name string)
	// OnServerToolResult delivers one provider-executed tool result block as
	// it arrives, with the citations mined from its content.
	OnServerToolResult func(tool string, citations []Citation)
}

// Citation is a URL mined from a provider-executed tool result.
type Citation struct {
	URL   string
	Title string
}

// Turn is the assembled result of one streamed model call.
type Turn struct {
	Blocks     []domain.ContentBlock
	StopReason string
	Usage      Usage
}
