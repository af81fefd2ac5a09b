package sources

import (
	"net/url"
	"regexp"
	"strings"
)

// faviconTemplate derives a favicon URL deterministically from a hostname.
const faviconTemplate = "https://www.google.com/s2/favicons?domain=%s&sz=64"

// displayNames overrides the derived display name for well-known domains.
var displayNames = map[string]string{
	"github.com":           "GitHub",
	"gitlab.com":           "GitLab",
	"stackoverflow.com":    "Stack Overflow",
	"stackexchange.com":    "Stack Exchange",
	"wikipedia.org":        "Wikipedia",
	"youtube.com":          "YouTube",
	"youtu.be":             "YouTube",
	"vimeo.com":            "Vimeo",
	"reddit.com":           "Reddit",
	"news.ycombinator.com": "Hacker News",
	"medium.com":           "Medium",
	"arxiv.org":            "arXiv",
	"npmjs.com":            "npm",
	"go.dev":               "Go",
	"pkg.go.dev":           "Go Packages",
	"mozilla.org":          "MDN",
	"developer.mozilla.org": "MDN Web Docs",
	"nytimes.com":          "The New York Times",
	"theguardian.com":      "The Guardian",
	"bbc.com":              "BBC",
	"bbc.co.uk":            "BBC",
}

// Hostname extracts the hostname from a raw URL, stripping a leading "www.".
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// DisplayName derives a human-readable site name from a hostname. Well-known
// domains come from a static table; otherwise the registrable domain's first
// label is title-cased.
func DisplayName(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if host == "" {
		return "Web"
	}
	if name, ok := displayNames[host]; ok {
		return name
	}
	// Match the parent domain for subdomains (en.wikipedia.org, old.reddit.com).
	for domain, name := range displayNames {
		if strings.HasSuffix(host, "."+domain) {
			return name
		}
	}
	label := host
	if i := strings.Index(label, "."); i > 0 {
		label = label[:i]
	}
	return titleCaseWord(label)
}

// FaviconURL returns the deterministic favicon URL for a hostname.
func FaviconURL(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if host == "" {
		return ""
	}
	return strings.Replace(faviconTemplate, "%s", host, 1)
}

// opaqueSegment matches path segments that carry no human meaning: pure
// numbers, hex ids, uuid-ish blobs.
var opaqueSegment = regexp.MustCompile(`^[0-9a-fA-F-]+$`)

// Title derives a citation title from a URL using per-site rules, falling back
// to a cleaned-up final path segment, then to "<Site> Article".
func Title(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	segs := pathSegments(u.Path)

	if t := siteTitle(host, segs, u); t != "" {
		return t
	}
	return genericTitle(host, segs)
}

// siteTitle applies structured per-site parsing. Returns "" when the host has
// no special rule or the path does not match the expected shape.
func siteTitle(host string, segs []string, u *url.URL) string {
	switch {
	case host == "github.com" || host == "gitlab.com":
		if len(segs) >= 2 {
			return segs[0] + "/" + segs[1]
		}

	case host == "wikipedia.org" || strings.HasSuffix(host, ".wikipedia.org"):
		if len(segs) >= 2 && segs[0] == "wiki" {
			title, err := url.PathUnescape(segs[len(segs)-1])
			if err != nil {
				title = segs[len(segs)-1]
			}
			return strings.ReplaceAll(title, "_", " ")
		}

	case host == "reddit.com" || strings.HasSuffix(host, ".reddit.com"):
		// /r/<sub>/comments/<id>/<slug>
		if len(segs) >= 2 && segs[0] == "r" {
			sub := segs[1]
			if len(segs) >= 5 && segs[2] == "comments" {
				return "r/" + sub + ": " + titleCasePhrase(cleanSegment(segs[4]))
			}
			return "r/" + sub
		}

	case host == "stackoverflow.com" || strings.HasSuffix(host, ".stackexchange.com"):
		// /questions/<id>/<slug>
		if len(segs) >= 3 && segs[0] == "questions" {
			return titleCasePhrase(cleanSegment(segs[2]))
		}

	case host == "youtube.com" || host == "youtu.be":
		return "YouTube Video"

	case host == "vimeo.com":
		return "Vimeo Video"

	case host == "news.ycombinator.com":
		return "Hacker News Discussion"
	}
	return ""
}

// genericTitle cleans the last non-empty path segment into a readable title.
func genericTitle(host string, segs []string) string {
	site := DisplayName(host)
	if len(segs) == 0 {
		return site
	}

	seg := cleanSegment(segs[len(segs)-1])
	// Too short or an opaque id: the segment is not a usable title.
	if len(seg) < 3 || opaqueSegment.MatchString(seg) {
		return site + " Article"
	}
	return titleCasePhrase(seg)
}

// pathSegments splits a URL path into its non-empty segments.
func pathSegments(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// cleanSegment strips file extensions, hash suffixes, and query leftovers from
// a path segment, and replaces separators with spaces.
func cleanSegment(seg string) string {
	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	for _, cut := range []string{"?", "#"} {
		if i := strings.Index(seg, cut); i >= 0 {
			seg = seg[:i]
		}
	}
	for _, ext := range []string{".html", ".htm", ".php", ".asp", ".aspx", ".md", ".txt"} {
		seg = strings.TrimSuffix(seg, ext)
	}
	// Trailing opaque hash suffix after the last dash (e.g. "my-post-4f9a21bc").
	if i := strings.LastIndex(seg, "-"); i > 0 {
		tail := seg[i+1:]
		if len(tail) >= 6 && opaqueSegment.MatchString(tail) {
			seg = seg[:i]
		}
	}
	seg = strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(seg)
	return strings.Join(strings.Fields(seg), " ")
}

// titleCasePhrase upper-cases the first letter of each word.
func titleCasePhrase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = titleCaseWord(w)
	}
	return strings.Join(words, " ")
}

func titleCaseWord(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + w[1:]
}
