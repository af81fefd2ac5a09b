package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fernlabs/streamd/internal/domain"
)

// PerplexityChatURL is the default Perplexity chat-completions endpoint.
// The API is OpenAI-compatible with a top-level citations extension.
const PerplexityChatURL = "https://api.perplexity.ai/chat/completions"

// PerplexityClient streams chat completions against the Perplexity API.
type PerplexityClient struct {
	APIKey string
	// BaseURL overrides the chat endpoint; used by tests.
	BaseURL string
}

func (c *PerplexityClient) url() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return PerplexityChatURL
}

// StreamChat sends one chat completion and streams the response. Text deltas
// are delivered through onDelta as they arrive; the accumulated text and the
// final citation URL list are returned when the stream ends.
func (c *PerplexityClient) StreamChat(
	ctx context.Context,
	model string,
	messages []domain.ChatMessage,
	system string,
	onDelta func(string),
) (string, []string, error) {
	reqBody := pplxRequest{
		Model:    model,
		Messages: buildPerplexityMessages(messages, system),
		Stream:   true,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	// Prevent proxies from injecting compression on the SSE stream.
	httpReq.Header.Set("Accept-Encoding", "identity")

	resp, err := streamHTTPClient.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		errType := ""
		errMessage := fmt.Sprintf("HTTP %d", resp.StatusCode)
		var errResp struct {
			Error *struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != nil {
			errType = errResp.Error.Type
			errMessage = errResp.Error.Message
		}
		return "", nil, NewAPIError(resp.StatusCode, errType, errMessage, resp.Header)
	}

	return parsePerplexitySSE(&lenientReader{r: resp.Body}, onDelta)
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type pplxMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type pplxRequest struct {
	Model    string        `json:"model"`
	Messages []pplxMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// buildPerplexityMessages flattens chat messages to the text-only wire shape.
// Image parts are dropped; Perplexity models do not accept them.
func buildPerplexityMessages(messages []domain.ChatMessage, system string) []pplxMessage {
	msgs := make([]pplxMessage, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, pplxMessage{Role: domain.RoleSystem, Content: system})
	}
	for _, m := range messages {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		msgs = append(msgs, pplxMessage{Role: m.Role, Content: m.TextContent()})
	}
	return msgs
}

// ---------------------------------------------------------------------------
// SSE parsing
// ---------------------------------------------------------------------------

type pplxSSEChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	// Citations is the cumulative URL list; later chunks supersede earlier
	// ones.
	Citations []string `json:"citations"`
}

// parsePerplexitySSE parses the OpenAI-compatible SSE stream, forwarding text
// deltas and retaining the final citations array.
func parsePerplexitySSE(body io.Reader, onDelta func(string)) (string, []string, error) {
	var textBuf strings.Builder
	var citations []string
	finishReason := ""

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line size
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk pplxSSEChunk
		if json.Unmarshal([]byte(data), &chunk) != nil {
			continue
		}

		if len(chunk.Citations) > 0 {
			citations = chunk.Citations
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				textBuf.WriteString(choice.Delta.Content)
				if onDelta != nil {
					onDelta(choice.Delta.Content)
				}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finishReason = *choice.FinishReason
			}
		}
	}

	var transportErr error
	if lr, ok := body.(*lenientReader); ok {
		transportErr = lr.err
	}
	if scanErr := scanner.Err(); scanErr != nil {
		transportErr = scanErr
	}

	if transportErr != nil && finishReason == "" {
		// Salvage accumulated text on a mid-stream disconnect; these turns
		// are always text-only so a partial answer beats transport noise.
		if textBuf.Len() > 0 {
			return textBuf.String(), citations, nil
		}
		return "", nil, fmt.Errorf("reading stream: %w", transportErr)
	}

	return textBuf.String(), citations, nil
}
