package provider

import (
	"fmt"
	"strings"
)

// Pipeline selects which adapter drives a session.
type Pipeline int

const (
	PipelineAnthropic Pipeline = iota
	PipelinePerplexity
)

// String returns the pipeline name for logging.
func (p Pipeline) String() string {
	switch p {
	case PipelineAnthropic:
		return "anthropic"
	case PipelinePerplexity:
		return "perplexity"
	default:
		return "unknown"
	}
}

// DefaultModel is the model used when a request does not name one.
const DefaultModel = "claude-sonnet-4-5"

// modelAliases maps user-friendly names to pinned API model ids.
var modelAliases = map[string]string{
	"claude-sonnet": "claude-sonnet-4-5",
	"claude-haiku":  "claude-haiku-4-5",
	"claude-opus":   "claude-opus-4-1",
	"perplexity":    "sonar-pro",
}

// Resolve maps a requested model id to its pipeline and pinned id. An
// unrecognized id is an error; the caller must fail the session before
// emitting any events.
func Resolve(modelID string) (Pipeline, string, error) {
	id := strings.ToLower(strings.TrimSpace(modelID))
	if id == "" {
		id = DefaultModel
	}
	if pinned, ok := modelAliases[id]; ok {
		id = pinned
	}

	switch {
	case strings.HasPrefix(id, "sonar"),
		strings.HasPrefix(id, "pplx-"),
		strings.HasSuffix(id, "-online"):
		return PipelinePerplexity, id, nil
	case strings.HasPrefix(id, "claude-"):
		return PipelineAnthropic, id, nil
	}

	return 0, "", fmt.Errorf("unknown model id: %q", modelID)
}
