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

// AnthropicMessagesURL is the default Anthropic Messages API endpoint.
const AnthropicMessagesURL = "https://api.anthropic.com/v1/messages"

const defaultMaxTokens = 8192

// AnthropicClient streams turns against the Anthropic Messages API.
type AnthropicClient struct {
	APIKey string
	// BaseURL overrides the Messages endpoint; used by tests.
	BaseURL string
}

func (c *AnthropicClient) url() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return AnthropicMessagesURL
}

// StreamTurn sends one model call and streams the response. Text and thinking
// deltas are delivered through ev as they arrive; the assembled turn is
// returned when the stream ends.
func (c *AnthropicClient) StreamTurn(ctx context.Context, req TurnRequest, ev TurnEvents) (Turn, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	reqBody := anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		Messages:  buildAnthropicMessages(req.Messages),
		Stream:    true,
		Tools:     toAnthropicTools(req.Tools, req.ServerTools),
	}
	if req.System != "" {
		reqBody.System = []anthropicSystemBlock{
			{
				Type:         "text",
				Text:         req.System,
				CacheControl: &anthropicCacheControl{Type: "ephemeral"},
			},
		}
	}
	if req.ThinkingBudget > 0 {
		reqBody.Thinking = &anthropicThinking{
			Type:         "enabled",
			BudgetTokens: req.ThinkingBudget,
		}
		// The API requires headroom above the thinking budget.
		if reqBody.MaxTokens <= req.ThinkingBudget {
			reqBody.MaxTokens = req.ThinkingBudget + defaultMaxTokens
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Turn{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(body))
	if err != nil {
		return Turn{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if beta := betaHeader(req.ServerTools); beta != "" {
		httpReq.Header.Set("anthropic-beta", beta)
	}
	// Prevent proxies from injecting compression on the SSE stream.
	httpReq.Header.Set("Accept-Encoding", "identity")

	resp, err := streamHTTPClient.Do(httpReq)
	if err != nil {
		return Turn{}, fmt.Errorf("sending request: %w", err)
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
		return Turn{}, NewAPIError(resp.StatusCode, errType, errMessage, resp.Header)
	}

	return parseAnthropicSSE(&lenientReader{r: resp.Body}, ev)
}

// betaHeader joins the distinct feature flags required by the server tools.
func betaHeader(serverTools []ServerToolSpec) string {
	var flags []string
	seen := map[string]bool{}
	for _, s := range serverTools {
		if s.BetaFlag == "" || seen[s.BetaFlag] {
			continue
		}
		seen[s.BetaFlag] = true
		flags = append(flags, s.BetaFlag)
	}
	return strings.Join(flags, ",")
}

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

type anthropicRequest struct {
	Model     string                 `json:"model"`
	MaxTokens int                    `json:"max_tokens"`
	Messages  []anthropicMessage     `json:"messages"`
	Stream    bool                   `json:"stream"`
	Tools     []anthropicToolItem    `json:"tools,omitempty"`
	System    []anthropicSystemBlock `json:"system,omitempty"`
	Thinking  *anthropicThinking     `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// newTextMessage creates an anthropicMessage with a plain text content string.
func newTextMessage(role, text string) anthropicMessage {
	raw, _ := json.Marshal(text)
	return anthropicMessage{Role: role, Content: raw}
}

// newBlockMessage creates an anthropicMessage with an array of content blocks.
func newBlockMessage(role string, blocks []anthropicContentBlock) anthropicMessage {
	raw, _ := json.Marshal(blocks)
	return anthropicMessage{Role: role, Content: raw}
}

type anthropicContentBlock struct {
	Type      string                `json:"type"`
	Text      string                `json:"text,omitempty"`
	Thinking  string                `json:"thinking,omitempty"`
	Signature string                `json:"signature,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     *map[string]any       `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   *string               `json:"content,omitempty"`
	IsError   *bool                 `json:"is_error,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// anthropicCacheControl marks a block for ephemeral prompt caching.
type anthropicCacheControl struct {
	Type string `json:"type"` // "ephemeral"
}

// anthropicSystemBlock is a content block in the system message array.
// Using an array (instead of a plain string) enables cache_control.
type anthropicSystemBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

// anthropicToolItem is a union of client tools (Name + Description +
// InputSchema) and server tools (Type + Name + MaxUses).
type anthropicToolItem struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	InputSchema *anthropicToolSchema `json:"input_schema,omitempty"`
	Type        string               `json:"type,omitempty"`
	MaxUses     int                  `json:"max_uses,omitempty"`

	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicToolSchema struct {
	Type       string                       `json:"type"`
	Properties map[string]anthropicToolProp `json:"properties"`
	Required   []string                     `json:"required"`
}

type anthropicToolProp struct {
	Type        string                       `json:"type"`
	Description string                       `json:"description,omitempty"`
	Enum        []string                     `json:"enum,omitempty"`
	Items       *anthropicToolProp           `json:"items,omitempty"`
	Properties  map[string]anthropicToolProp `json:"properties,omitempty"`
	Required    []string                     `json:"required,omitempty"`
}

// ---------------------------------------------------------------------------
// Tool conversion
// ---------------------------------------------------------------------------

// convertAnthropicProp recursively converts a ToolProp to anthropicToolProp.
func convertAnthropicProp(v ToolProp) anthropicToolProp {
	p := anthropicToolProp{
		Type:        v.Type,
		Description: v.Description,
		Enum:        v.Enum,
	}
	if v.Items != nil {
		converted := convertAnthropicProp(*v.Items)
		p.Items = &converted
	}
	if len(v.Properties) > 0 {
		p.Properties = make(map[string]anthropicToolProp, len(v.Properties))
		for k, nested := range v.Properties {
			p.Properties[k] = convertAnthropicProp(nested)
		}
	}
	if len(v.Required) > 0 {
		p.Required = v.Required
	}
	return p
}

// toAnthropicTools converts the merged tool surface to Anthropic wire format:
// server tools first, then client tools.
func toAnthropicTools(specs []ToolSpec, serverTools []ServerToolSpec) []anthropicToolItem {
	if len(specs) == 0 && len(serverTools) == 0 {
		return nil
	}

	items := make([]anthropicToolItem, 0, len(specs)+len(serverTools))
	for _, s := range serverTools {
		items = append(items, anthropicToolItem{
			Type:    s.Type,
			Name:    s.Name,
			MaxUses: s.MaxUses,
		})
	}
	for _, s := range specs {
		props := make(map[string]anthropicToolProp, len(s.Properties))
		for k, v := range s.Properties {
			props[k] = convertAnthropicProp(v)
		}
		req := s.Required
		if req == nil {
			req = []string{}
		}
		items = append(items, anthropicToolItem{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: &anthropicToolSchema{
				Type:       "object",
				Properties: props,
				Required:   req,
			},
		})
	}

	// Mark the last tool with cache_control so the entire tool list is
	// cached as a prefix.
	items[len(items)-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}

	return items
}

// ---------------------------------------------------------------------------
// Message conversion
// ---------------------------------------------------------------------------

// buildAnthropicMessages converts provider messages to Anthropic API format.
func buildAnthropicMessages(history []domain.ProviderMessage) []anthropicMessage {
	msgs := make([]anthropicMessage, 0, len(history))
	for _, m := range history {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		if !m.HasBlocks() {
			msgs = append(msgs, newTextMessage(m.Role, m.Text))
			continue
		}
		apiBlocks := make([]anthropicContentBlock, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			switch b.Type {
			case "text":
				apiBlocks = append(apiBlocks, anthropicContentBlock{Type: "text", Text: b.Text})
			case "thinking":
				apiBlocks = append(apiBlocks, anthropicContentBlock{
					Type:      "thinking",
					Thinking:  b.Text,
					Signature: b.Signature,
				})
			case "image":
				if src, ok := parseDataURL(b.ImageURL); ok {
					apiBlocks = append(apiBlocks, anthropicContentBlock{Type: "image", Source: src})
				}
			case "tool_use":
				input := b.ToolInput
				if input == nil {
					input = map[string]any{}
				}
				apiBlocks = append(apiBlocks, anthropicContentBlock{
					Type:  "tool_use",
					ID:    b.ToolUseID,
					Name:  b.ToolName,
					Input: &input,
				})
			case "tool_result":
				content := b.ToolResult
				// Truncate oversized tool results to bound context size.
				const maxToolResult = 10000
				if len(content) > maxToolResult {
					content = content[:maxToolResult] + "\n... (truncated for context)"
				}
				block := anthropicContentBlock{
					Type:      "tool_result",
					ToolUseID: b.ToolUseID,
					Content:   &content,
				}
				if b.IsError {
					isErr := true
					block.IsError = &isErr
				}
				apiBlocks = append(apiBlocks, block)
			}
		}
		msgs = append(msgs, newBlockMessage(m.Role, apiBlocks))
	}
	return msgs
}

// parseDataURL splits a "data:<media>;base64,<data>" URL into an image source.
func parseDataURL(u string) (*anthropicImageSource, bool) {
	if !strings.HasPrefix(u, "data:") {
		return nil, false
	}
	rest := strings.TrimPrefix(u, "data:")
	meta, data, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") || data == "" {
		return nil, false
	}
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType == "" {
		mediaType = "image/png"
	}
	return &anthropicImageSource{Type: "base64", MediaType: mediaType, Data: data}, true
}

// ---------------------------------------------------------------------------
// SSE parsing
// ---------------------------------------------------------------------------

type sseEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type      string          `json:"type"`
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		ToolUseID string          `json:"tool_use_id"`
		// Content holds server tool result payloads.
		Content json.RawMessage `json:"content"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		Signature   string `json:"signature"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Message *struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	// Error is populated for SSE error events sent mid-stream.
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// streamBlock tracks an in-flight content block during SSE streaming.
type streamBlock struct {
	blockType string
	toolID    string
	toolName  string
	textBuf   strings.Builder
	jsonBuf   strings.Builder
	sigBuf    strings.Builder
}

// fetchResultContent is the inner content of a web_fetch_tool_result block.
type fetchResultContent struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Content struct {
		Title string `json:"title"`
	} `json:"content"`
}

// searchResultItem is one element of a web_search_tool_result content array.
type searchResultItem struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// lenientReader wraps an io.Reader and absorbs transport-level errors
// (chunked encoding issues from TLS-intercepting proxies, connection resets)
// by converting them to io.EOF. This ensures the SSE parser processes all
// data that was successfully received before the error occurred.
type lenientReader struct {
	r   io.Reader
	err error // saved transport error, nil if clean
}

func (lr *lenientReader) Read(p []byte) (int, error) {
	n, err := lr.r.Read(p)
	if err != nil && err != io.EOF {
		lr.err = err
		if n > 0 {
			return n, nil // deliver buffered data, suppress error for now
		}
		return 0, io.EOF // no data left, signal clean EOF
	}
	return n, err
}

// parseAnthropicSSE parses the Anthropic SSE stream into an assembled Turn,
// delivering text and thinking deltas through ev as they arrive. The body
// should be a *lenientReader so transport errors are absorbed and all
// buffered data is processed.
func parseAnthropicSSE(body io.Reader, ev TurnEvents) (Turn, error) {
	var blocks []streamBlock
	usage := Usage{}
	stopReason := ""

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line size
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var event sseEvent
		if json.Unmarshal([]byte(data), &event) != nil {
			continue
		}

		switch event.Type {
		case "error":
			// Mid-stream error from the API (e.g., overloaded_error).
			errType := ""
			errMsg := "unknown API error"
			if event.Error != nil {
				errType = event.Error.Type
				errMsg = event.Error.Message
			}
			turn := Turn{Blocks: assembleBlocks(blocks), StopReason: stopReason, Usage: usage}
			return turn, &APIError{StatusCode: 0, ErrorType: errType, Message: errMsg}

		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			sb := streamBlock{}
			if event.ContentBlock != nil {
				sb.blockType = event.ContentBlock.Type
				sb.toolID = event.ContentBlock.ID
				sb.toolName = event.ContentBlock.Name

				// Server-side blocks are normalized into callbacks as they
				// arrive, so their frames keep stream order relative to text.
				switch sb.blockType {
				case "server_tool_use":
					if ev.OnServerToolUse != nil {
						ev.OnServerToolUse(sb.toolName)
					}
				case "web_fetch_tool_result":
					var mined []Citation
					var fr fetchResultContent
					if len(event.ContentBlock.Content) > 0 &&
						json.Unmarshal(event.ContentBlock.Content, &fr) == nil && fr.URL != "" {
						mined = append(mined, Citation{URL: fr.URL, Title: fr.Content.Title})
					}
					if ev.OnServerToolResult != nil {
						ev.OnServerToolResult("web_fetch", mined)
					}
				case "web_search_tool_result":
					var mined []Citation
					var items []searchResultItem
					if len(event.ContentBlock.Content) > 0 &&
						json.Unmarshal(event.ContentBlock.Content, &items) == nil {
						for _, it := range items {
							if it.URL != "" {
								mined = append(mined, Citation{URL: it.URL, Title: it.Title})
							}
						}
					}
					if ev.OnServerToolResult != nil {
						ev.OnServerToolResult("web_search", mined)
					}
				}
			}
			for len(blocks) <= event.Index {
				blocks = append(blocks, streamBlock{})
			}
			blocks[event.Index] = sb

		case "content_block_delta":
			if event.Index < len(blocks) {
				switch event.Delta.Type {
				case "text_delta":
					blocks[event.Index].textBuf.WriteString(event.Delta.Text)
					if ev.OnText != nil {
						ev.OnText(event.Delta.Text)
					}
				case "thinking_delta":
					blocks[event.Index].textBuf.WriteString(event.Delta.Thinking)
					if ev.OnThinking != nil {
						ev.OnThinking(event.Delta.Thinking)
					}
				case "signature_delta":
					blocks[event.Index].sigBuf.WriteString(event.Delta.Signature)
				case "input_json_delta":
					blocks[event.Index].jsonBuf.WriteString(event.Delta.PartialJSON)
				}
			}

		case "message_delta":
			if event.Usage.OutputTokens > 0 {
				usage.OutputTokens = event.Usage.OutputTokens
			}
			if event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
		}
	}

	// Check for transport errors saved by lenientReader. If the API already
	// sent a stop_reason, the response is complete.
	var transportErr error
	if lr, ok := body.(*lenientReader); ok {
		transportErr = lr.err
	}
	if scanErr := scanner.Err(); scanErr != nil {
		transportErr = scanErr
	}

	if transportErr != nil && stopReason == "" {
		// A text-only response with content is salvaged as a normal
		// end_turn instead of surfacing transport noise. Tool-use turns
		// still fail, because partial input JSON is unsafe to execute.
		assembled := assembleBlocks(blocks)
		if len(assembled) > 0 && !domain.HasToolUse(assembled) {
			return Turn{Blocks: assembled, StopReason: "end_turn", Usage: usage}, nil
		}
		return Turn{}, fmt.Errorf("reading stream: %w", transportErr)
	}

	return Turn{Blocks: assembleBlocks(blocks), StopReason: stopReason, Usage: usage}, nil
}

// assembleBlocks converts streamBlocks into domain.ContentBlocks. Server-side
// blocks (server_tool_use and their results) are skipped; they were already
// delivered through the TurnEvents callbacks during parsing.
func assembleBlocks(blocks []streamBlock) []domain.ContentBlock {
	var contentBlocks []domain.ContentBlock
	for i := range blocks {
		sb := &blocks[i]
		switch sb.blockType {
		case "text":
			contentBlocks = append(contentBlocks, domain.ContentBlock{
				Type: "text",
				Text: sb.textBuf.String(),
			})
		case "thinking":
			contentBlocks = append(contentBlocks, domain.ContentBlock{
				Type:      "thinking",
				Text:      sb.textBuf.String(),
				Signature: sb.sigBuf.String(),
			})
		case "tool_use":
			input := map[string]any{}
			if jsonStr := sb.jsonBuf.String(); jsonStr != "" {
				// Partial JSON from a truncated stream is dropped; the
				// orchestrator reports the empty input as a tool failure.
				_ = json.Unmarshal([]byte(jsonStr), &input)
			}
			contentBlocks = append(contentBlocks, domain.ContentBlock{
				Type:      "tool_use",
				ToolUseID: sb.toolID,
				ToolName:  sb.toolName,
				ToolInput: input,
			})
		}
	}
	return contentBlocks
}
