package engine

import (
	"fmt"

	"github.com/fernlabs/streamd/internal/domain"
	"github.com/fernlabs/streamd/internal/sanitize"
)

const canvasChunkSize = 100

// streamCanvas renders a successful artifact-creation call as a synthetic
// tagged text stream: opening tag, content in paced chunks, closing tag. The
// emitted text counts as visible output.
func (s *session) streamCanvas(input map[string]any) {
	title, _ := input["title"].(string)
	content, _ := input["content"].(string)

	s.emit(domain.TextEvent(fmt.Sprintf(`<canvas title=%q action="create">`, title)))
	for _, chunk := range chunkRunes(sanitize.Text(content), canvasChunkSize) {
		if !s.sleep(s.eng.CanvasDelay) {
			break
		}
		s.emit(domain.TextEvent(chunk))
	}
	s.emit(domain.TextEvent("</canvas>"))
}

// chunkRunes splits s into n-rune chunks without breaking UTF-8 sequences.
func chunkRunes(s string, n int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+n-1)/n)
	for start := 0; start < len(runes); start += n {
		end := start + n
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
