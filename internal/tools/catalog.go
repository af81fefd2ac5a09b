// Package tools defines the tool catalog consumed by the orchestration engine
// and the contract for executing client tool calls. Concrete tool business
// logic lives behind the Executor interface; this package only shapes the
// catalog and names the tools with orchestrator-level side effects.
package tools

import (
	"context"

	"github.com/fernlabs/streamd/internal/provider"
)

// Tool names the orchestrator treats specially.
const (
	// WebSearch results are converted one-to-one into source records and
	// streamed individually.
	WebSearch = "web_search"
	// CreateCanvas results are rendered as a paced synthetic tagged stream.
	CreateCanvas = "create_canvas"
	// WebFetch is provider-executed: local execution is skipped and the
	// fetched URL is mined as a citation.
	WebFetch = "web_fetch"
)

// Result is the outcome of executing one tool call. Immutable once produced.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Executor runs a named tool with structured input. Implementations are
// opaque to the engine; failures are reported in the Result, never panicked.
type Executor interface {
	Execute(ctx context.Context, name string, input map[string]any) Result
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, name string, input map[string]any) Result

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, name string, input map[string]any) Result {
	return f(ctx, name, input)
}

// Catalog is the merged tool surface offered to the model: client tools
// executed here, provider-executed server tools, and externally discovered
// tools (MCP).
type Catalog struct {
	Client   []provider.ToolSpec
	Server   []provider.ServerToolSpec
	External []provider.ToolSpec
}

// Specs returns all locally-describable tool specs (client + external) in
// catalog order, the list sent to the provider alongside server tools.
func (c Catalog) Specs() []provider.ToolSpec {
	specs := make([]provider.ToolSpec, 0, len(c.Client)+len(c.External))
	specs = append(specs, c.Client...)
	specs = append(specs, c.External...)
	return specs
}

// ServerExecuted reports whether the named tool runs on the provider side:
// the orchestrator must not execute it locally.
func (c Catalog) ServerExecuted(name string) bool {
	if name == WebFetch {
		return true
	}
	for _, s := range c.Server {
		if s.Name == name {
			return true
		}
	}
	return false
}

// WebSearchSpec is the built-in client web-search tool definition.
func WebSearchSpec() provider.ToolSpec {
	return provider.ToolSpec{
		Name:        WebSearch,
		Description: "Search the web for current information. Returns a list of results with url, title, and snippet.",
		Properties: map[string]provider.ToolProp{
			"query": {Type: "string", Description: "The search query"},
			"max_results": {
				Type:        "integer",
				Description: "Maximum number of results to return (default 5)",
			},
		},
		Required: []string{"query"},
	}
}

// CreateCanvasSpec is the built-in artifact-creation tool definition.
func CreateCanvasSpec() provider.ToolSpec {
	return provider.ToolSpec{
		Name:        CreateCanvas,
		Description: "Create a canvas artifact with a title and markdown content, shown beside the conversation.",
		Properties: map[string]provider.ToolProp{
			"title":   {Type: "string", Description: "Canvas title"},
			"content": {Type: "string", Description: "Canvas body content"},
		},
		Required: []string{"title", "content"},
	}
}

// WebFetchServerSpec is the provider-executed fetch tool with its required
// feature flag.
func WebFetchServerSpec() provider.ServerToolSpec {
	return provider.ServerToolSpec{
		Type:     "web_fetch_20250910",
		Name:     WebFetch,
		BetaFlag: "web-fetch-2025-09-10",
		MaxUses:  5,
	}
}
