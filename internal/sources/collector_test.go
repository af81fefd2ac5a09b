package sources

import (
	"testing"

	"github.com/fernlabs/streamd/internal/domain"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.com/Path/", "https://example.com/Path"},
		{"https://example.com/path#section", "https://example.com/path"},
		{"HTTPS://EXAMPLE.COM", "https://example.com"},
		{"  https://example.com/a  ", "https://example.com/a"},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollector_dedup(t *testing.T) {
	c := NewCollector()

	rec, added := c.FromSearchResult("https://github.com/acme/widgets", "", "")
	if !added {
		t.Fatal("first sighting should be added")
	}
	if rec.ID == "" {
		t.Error("record should get an id")
	}
	if rec.Name != "GitHub" {
		t.Errorf("Name = %q, want GitHub", rec.Name)
	}
	if rec.Title != "acme/widgets" {
		t.Errorf("Title = %q, want acme/widgets", rec.Title)
	}
	if rec.Favicon == "" {
		t.Error("record should get a favicon")
	}

	// Same URL with cosmetic differences is a duplicate.
	if _, added := c.FromSearchResult("https://github.com/acme/widgets#readme", "", ""); added {
		t.Error("duplicate URL should be dropped")
	}
	if _, added := c.FromFetchInput(map[string]any{"url": "https://github.com/acme/widgets/"}); added {
		t.Error("duplicate URL via fetch input should be dropped")
	}

	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestCollector_orderPreserved(t *testing.T) {
	c := NewCollector()
	urls := []string{
		"https://a.example.com/1",
		"https://b.example.com/2",
		"https://c.example.com/3",
	}
	for _, u := range urls {
		if _, added := c.Add(domain.SourceRecord{URL: u, Type: domain.SourceWebSearch}); !added {
			t.Fatalf("expected %s to be added", u)
		}
	}
	recs := c.Records()
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, u := range urls {
		if recs[i].URL != u {
			t.Errorf("records[%d].URL = %q, want %q", i, recs[i].URL, u)
		}
	}
}

func TestCollector_searchTitleWins(t *testing.T) {
	c := NewCollector()
	rec, _ := c.FromSearchResult("https://example.com/post-slug", "Hand-Written Title", "a snippet")
	if rec.Title != "Hand-Written Title" {
		t.Errorf("Title = %q, want tool-provided title", rec.Title)
	}
	if rec.Snippet != "a snippet" {
		t.Errorf("Snippet = %q", rec.Snippet)
	}
}

func TestCollector_fetchInputWithoutURL(t *testing.T) {
	c := NewCollector()
	if _, added := c.FromFetchInput(map[string]any{"query": "no url here"}); added {
		t.Error("fetch input without url must not produce a record")
	}
}

func TestCollector_perplexitySnippet(t *testing.T) {
	c := NewCollector()
	full := "Go ships a race detector[1]. Channels are typed conduits[2]."
	rec, added := c.FromPerplexityCitation("https://go.dev/doc/articles/race_detector", full, 0)
	if !added {
		t.Fatal("expected record")
	}
	if rec.Type != domain.SourcePerplexity {
		t.Errorf("Type = %q", rec.Type)
	}
	if rec.Snippet != "Go ships a race detector" {
		t.Errorf("Snippet = %q", rec.Snippet)
	}
}
