// Package sources accumulates, deduplicates, and formats citation metadata
// collected while a session streams: client web-search results, provider-run
// fetch/search citations, and trailing Perplexity citations.
package sources

import (
	"net/url"
	"strings"

	"github.com/fernlabs/streamd/internal/domain"
)

// Collector is the ordered, deduplicated session source set. It is scoped to
// one session and never shared across connections.
type Collector struct {
	records []domain.SourceRecord
	seen    map[string]bool
}

// NewCollector creates an empty session source set.
func NewCollector() *Collector {
	return &Collector{seen: make(map[string]bool)}
}

// NormalizeURL produces the dedup key for a source URL: lowercased scheme and
// host, fragment dropped, trailing slash trimmed.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	s := u.String()
	return strings.TrimSuffix(s, "/")
}

// Add appends a record unless its normalized URL was already seen. It fills
// in derivable fields (name, title, favicon) that the caller left empty and
// returns the completed record plus whether it was newly added.
func (c *Collector) Add(rec domain.SourceRecord) (domain.SourceRecord, bool) {
	key := NormalizeURL(rec.URL)
	if key == "" || c.seen[key] {
		return domain.SourceRecord{}, false
	}
	c.seen[key] = true

	host := Hostname(rec.URL)
	if rec.ID == "" {
		rec.ID = domain.NewID()
	}
	if rec.Name == "" {
		rec.Name = DisplayName(host)
	}
	if rec.Title == "" {
		rec.Title = Title(rec.URL)
	}
	if rec.Favicon == "" {
		rec.Favicon = FaviconURL(host)
	}

	c.records = append(c.records, rec)
	return rec, true
}

// FromSearchResult builds a record for one client web-search hit. The search
// tool's own title wins over the URL heuristic when present.
func (c *Collector) FromSearchResult(rawURL, title, snippet string) (domain.SourceRecord, bool) {
	return c.Add(domain.SourceRecord{
		URL:     rawURL,
		Title:   title,
		Snippet: snippet,
		Type:    domain.SourceWebSearch,
	})
}

// FromFetchInput builds a record for a provider-executed fetch tool by mining
// the URL out of the tool call's input.
func (c *Collector) FromFetchInput(input map[string]any) (domain.SourceRecord, bool) {
	rawURL, _ := input["url"].(string)
	if rawURL == "" {
		return domain.SourceRecord{}, false
	}
	return c.Add(domain.SourceRecord{URL: rawURL, Type: domain.SourceWebFetch})
}

// FromServerCitation builds a record for a citation attached to a
// server-executed tool result block.
func (c *Collector) FromServerCitation(rawURL, title string) (domain.SourceRecord, bool) {
	return c.Add(domain.SourceRecord{URL: rawURL, Title: title, Type: domain.SourceWebFetch})
}

// FromPerplexityCitation builds a record for the index-th trailing citation,
// extracting a snippet from the already-produced full response text.
func (c *Collector) FromPerplexityCitation(rawURL, fullText string, index int) (domain.SourceRecord, bool) {
	return c.Add(domain.SourceRecord{
		URL:     rawURL,
		Snippet: Snippet(fullText, index),
		Type:    domain.SourcePerplexity,
	})
}

// Records returns the accumulated records in arrival order.
func (c *Collector) Records() []domain.SourceRecord {
	out := make([]domain.SourceRecord, len(c.records))
	copy(out, c.records)
	return out
}

// Len returns the number of accumulated records.
func (c *Collector) Len() int {
	return len(c.records)
}
