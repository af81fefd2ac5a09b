package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// Runner executes the built-in client tools and routes namespaced names to an
// external executor (MCP-discovered tools). It implements Executor.
type Runner struct {
	// BraveAPIKey backs web_search. The BRAVE_SEARCH_API_KEY environment
	// variable takes precedence.
	BraveAPIKey string

	// External handles namespaced tool names ("server__tool"). May be nil.
	External Executor
}

// Execute runs one tool call and never returns an error out-of-band: failures
// travel inside the Result.
func (r *Runner) Execute(ctx context.Context, name string, input map[string]any) Result {
	switch name {
	case WebSearch:
		return r.webSearch(ctx, input)
	case CreateCanvas:
		// The orchestrator renders the canvas from the call input; execution
		// only acknowledges the call back to the model.
		return Result{Success: true, Data: "canvas created"}
	}
	if strings.Contains(name, "__") && r.External != nil {
		return r.External.Execute(ctx, name, input)
	}
	return Result{Success: false, Error: fmt.Sprintf("unknown tool %q", name)}
}

// braveSearchHTTPClient is overridable in tests.
var braveSearchHTTPClient = &http.Client{Timeout: 15 * time.Second}

// braveSearchURL is the base URL for the Brave Search API. Override in tests.
var braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// getEnvFunc allows overriding os.Getenv in tests.
var getEnvFunc = os.Getenv

func (r *Runner) webSearch(ctx context.Context, input map[string]any) Result {
	query, _ := input["query"].(string)
	if query == "" {
		return Result{Success: false, Error: "query is required"}
	}

	count := 5
	if v, ok := input["max_results"].(float64); ok && v > 0 {
		count = int(v)
		if count > 20 {
			count = 20
		}
	}

	hits, err := braveSearch(ctx, query, count, r.BraveAPIKey)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return Result{Success: true, Data: hits}
}

// braveSearch calls the Brave Search API and returns hits as url/title/snippet
// maps. It checks the env var first, then falls back to the provided key.
func braveSearch(ctx context.Context, query string, count int, configKey string) ([]any, error) {
	apiKey := getEnvFunc("BRAVE_SEARCH_API_KEY")
	if apiKey == "" {
		apiKey = configKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("web search is not configured: set BRAVE_SEARCH_API_KEY")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveSearchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	q := req.URL.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)

	resp, err := braveSearchHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("search API error (HTTP %d): %s", resp.StatusCode, truncate(string(body), 500))
	}

	var result braveSearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	hits := make([]any, 0, len(result.Web.Results))
	for _, r := range result.Web.Results {
		hits = append(hits, map[string]any{
			"url":     r.URL,
			"title":   r.Title,
			"snippet": r.Description,
		})
	}
	return hits, nil
}

type braveSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// truncate returns s trimmed to at most maxLen bytes, backing up to a rune
// boundary so multibyte sequences are never split.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
