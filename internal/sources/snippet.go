package sources

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// sentence boundary characters used when scanning backwards from a citation
// marker and when splitting text positionally.
const sentenceEnders = ".!?\n"

// Snippet locates supporting text for the citation at position index (0-based)
// inside fullText. It prefers the sentence immediately preceding the numbered
// marker "[index+1]"; when the marker is absent it falls back to the sentence
// at the same position.
func Snippet(fullText string, index int) string {
	if fullText == "" {
		return ""
	}

	marker := fmt.Sprintf("[%d]", index+1)
	if pos := strings.Index(fullText, marker); pos >= 0 {
		if s := sentenceBefore(fullText, pos); s != "" {
			return s
		}
	}

	sentences := splitSentences(fullText)
	if index < len(sentences) {
		return sentences[index]
	}
	return ""
}

// sentenceBefore returns the sentence ending at pos, scanning back to the
// previous sentence boundary.
func sentenceBefore(text string, pos int) string {
	start := 0
	for i := pos - 1; i >= 0; i-- {
		if strings.ContainsRune(sentenceEnders, rune(text[i])) {
			start = i + 1
			break
		}
	}
	return clampSnippet(strings.TrimSpace(text[start:pos]))
}

// splitSentences breaks text into trimmed, non-empty sentences.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if strings.ContainsRune(sentenceEnders, rune(text[i])) {
			if s := strings.TrimSpace(text[start:i]); s != "" {
				out = append(out, clampSnippet(s))
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, clampSnippet(s))
	}
	return out
}

// clampSnippet bounds snippet length so a run-on paragraph does not become
// the citation preview. The cut backs up to a rune boundary so multibyte
// text stays valid UTF-8 in the JSON payload.
func clampSnippet(s string) string {
	const maxSnippet = 300
	if len(s) <= maxSnippet {
		return s
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
