package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fernlabs/streamd/internal/domain"
	"github.com/fernlabs/streamd/internal/provider"
	"github.com/fernlabs/streamd/internal/sanitize"
	"github.com/fernlabs/streamd/internal/tools"
)

// turnFlags tracks whether a turn delivered visible text through the stream.
type turnFlags struct {
	textSeen atomic.Bool
}

// turnEvents builds the streaming callbacks for one model turn. Text deltas
// are sanitized before emission; thinking deltas pass through verbatim.
// Server-tool frames are emitted as their blocks arrive so they keep stream
// order relative to the text they feed.
func (s *session) turnEvents(g *roundGate, flags *turnFlags) provider.TurnEvents {
	return provider.TurnEvents{
		OnText: func(d string) {
			clean := sanitize.Text(d)
			if clean == "" {
				return
			}
			if s.emitGated(g, domain.TextEvent(clean)) {
				flags.textSeen.Store(true)
			}
		},
		OnThinking: func(d string) {
			if d == "" {
				return
			}
			s.emitGated(g, domain.ThinkingEvent(d))
		},
		OnServerToolUse: func(name string) {
			s.emitGated(g, domain.ToolUseEvent(name, nil, ""))
		},
		OnServerToolResult: func(tool string, cs []provider.Citation) {
			s.serverToolResult(g, tool, cs)
		},
	}
}

// runAnthropic drives the Anthropic pipeline: first turn with retry, then
// tool-use rounds if the model requests them.
func (s *session) runAnthropic(modelID string, thinkingBudget int) {
	if s.thinking {
		// Empty preamble hides first-token latency behind a thinking
		// indicator.
		s.emit(domain.ThinkingEvent(""))
		if thinkingBudget <= 0 {
			thinkingBudget = defaultThinkingBudget
		}
	} else {
		thinkingBudget = 0
	}

	req := provider.TurnRequest{
		Model:          modelID,
		Messages:       s.messages,
		System:         s.system,
		ThinkingBudget: thinkingBudget,
	}
	if s.useTools {
		req.Tools = s.eng.Catalog.Specs()
		req.ServerTools = s.eng.Catalog.Server
	}

	flags := &turnFlags{}
	turn, err := s.streamWithRetry(req, s.turnEvents(nil, flags))
	if err != nil {
		s.fail(err)
		return
	}
	if s.clientGone() {
		return
	}
	s.finishTurn(turn, flags)

	if turn.StopReason == "tool_use" && domain.HasToolUse(turn.Blocks) {
		s.orchestrateRounds(req, turn)
		return
	}

	if !s.hasVisibleOutput() {
		s.emit(domain.TextEvent(s.fallbackText()))
	}
	s.emit(domain.DoneEvent())
}

// runPerplexity drives the single-pass Perplexity pipeline: stream sanitized
// text, then convert the trailing citations with pacing.
func (s *session) runPerplexity(modelID string) {
	full, citations, err := s.eng.Perplexity.StreamChat(s.ctx, modelID, s.chat, s.system, func(d string) {
		clean := sanitize.Text(d)
		if clean == "" {
			return
		}
		s.emit(domain.TextEvent(clean))
	})
	if err != nil {
		s.fail(err)
		return
	}
	if s.clientGone() {
		return
	}

	for i, u := range citations {
		rec, added := s.collector.FromPerplexityCitation(u, full, i)
		if !added {
			continue
		}
		if !s.sleep(s.eng.CitationDelay) {
			break
		}
		s.emit(domain.SourcesEvent(rec))
	}

	if !s.hasVisibleOutput() {
		s.emit(domain.TextEvent(s.fallbackText()))
	}
	s.emit(domain.DoneEvent())
}

// finishTurn applies per-turn post-processing. If no text event fired while
// streaming, the final blocks are scanned for text delivered out-of-band
// (providers do this when thinking is active).
func (s *session) finishTurn(turn provider.Turn, flags *turnFlags) {
	if !flags.textSeen.Load() {
		var parts []string
		for _, b := range turn.Blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		if clean := sanitize.Text(strings.Join(parts, "")); clean != "" {
			s.emit(domain.TextEvent(clean))
		}
	}
}

// serverToolResult converts one provider-executed tool result block into
// frames as it arrives: a tool_result for the block, then one sources event
// carrying the citations it yielded.
func (s *session) serverToolResult(g *roundGate, tool string, cs []provider.Citation) {
	var recs []domain.SourceRecord
	var urls []string
	for _, c := range cs {
		urls = append(urls, c.URL)
		rec, added := s.collector.FromServerCitation(c.URL, c.Title)
		if !added {
			continue
		}
		recs = append(recs, rec)
	}
	var data any
	if len(urls) > 0 {
		data = map[string]any{"urls": urls}
	}
	s.emitGated(g, domain.ToolResultEvent(tool, data, ""))
	if len(recs) > 0 {
		s.emitGated(g, domain.SourcesEvent(recs...))
	}
}

// orchestrateRounds runs the tool-use state machine: at most maxRounds cycles
// of {execute tools → continuation}, each continuation bounded by the round
// deadline. All exits funnel into the never-silent check and a terminal
// event.
func (s *session) orchestrateRounds(base provider.TurnRequest, turn provider.Turn) {
	for round := 1; round <= maxRounds; round++ {
		s.rounds = round

		s.messages = append(s.messages, assistantTurn(turn.Blocks, s.thinking))
		results := s.executeTools(round, turn.Blocks)
		s.messages = append(s.messages, domain.ProviderMessage{Role: domain.RoleUser, Blocks: results})
		if s.clientGone() {
			return
		}

		req := base
		req.Messages = s.messages
		next, flags, timedOut, err := s.continuation(req)
		if timedOut {
			s.log.Warn().Int("round", round).Msg("continuation deadline exceeded")
			s.emit(domain.TextEvent(timeoutText))
			break
		}
		if err != nil {
			s.fail(err)
			return
		}
		if s.clientGone() {
			return
		}
		s.finishTurn(next, flags)

		if next.StopReason == "tool_use" && domain.HasToolUse(next.Blocks) {
			if round == maxRounds {
				s.emit(domain.TextEvent(roundCapText))
				break
			}
			turn = next
			continue
		}
		break
	}

	if !s.hasVisibleOutput() {
		s.emit(domain.TextEvent(s.fallbackText()))
	}
	s.emit(domain.DoneEvent())
}

// continuation issues one follow-up model call under the round deadline. On
// expiry the in-flight call is abandoned, not awaited: its context is
// cancelled, its gate closes so late deltas are dropped, and the goroutine
// drains on its own.
func (s *session) continuation(req provider.TurnRequest) (provider.Turn, *turnFlags, bool, error) {
	g := &roundGate{}
	flags := &turnFlags{}
	ev := s.turnEvents(g, flags)

	callCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	type outcome struct {
		turn provider.Turn
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		turn, err := s.eng.Anthropic.StreamTurn(callCtx, req, ev)
		ch <- outcome{turn, err}
	}()

	deadline := s.eng.RoundDeadline
	if deadline <= 0 {
		deadline = roundDeadline
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.turn, flags, false, out.err
	case <-timer.C:
		s.closeGate(g)
		return provider.Turn{}, flags, true, nil
	case <-s.ctx.Done():
		s.closeGate(g)
		return provider.Turn{}, flags, false, s.ctx.Err()
	}
}

// executeTools runs the round's pending calls sequentially, in order, with
// tool_use before and tool_result after every call. Failures surface inside
// the tool_result, never as errors.
func (s *session) executeTools(round int, blocks []domain.ContentBlock) []domain.ContentBlock {
	var results []domain.ContentBlock
	for _, b := range blocks {
		if b.Type != "tool_use" {
			continue
		}
		s.emit(domain.ToolUseEvent(b.ToolName, b.ToolInput, ""))

		res := s.runTool(b)
		if res.Success {
			switch b.ToolName {
			case tools.WebSearch:
				s.streamSearchSources(res.Data)
			case tools.CreateCanvas:
				s.streamCanvas(b.ToolInput)
			}
			s.emit(domain.ToolResultEvent(b.ToolName, res.Data, ""))
		} else {
			s.emit(domain.ToolResultEvent(b.ToolName, nil, res.Error))
		}

		results = append(results, domain.ContentBlock{
			Type:       "tool_result",
			ToolUseID:  b.ToolUseID,
			ToolName:   b.ToolName,
			ToolResult: encodeResult(res),
			IsError:    !res.Success,
		})
	}
	s.log.Debug().Int("round", round).Int("tools", len(results)).Msg("round tools executed")
	return results
}

// runTool executes one call, or skips it when the provider runs the tool
// itself. Skipped calls still yield a derivable citation from their input.
func (s *session) runTool(b domain.ContentBlock) tools.Result {
	if s.eng.Catalog.ServerExecuted(b.ToolName) {
		if rec, added := s.collector.FromFetchInput(b.ToolInput); added {
			s.emit(domain.SourcesEvent(rec))
		}
		return tools.Result{Success: true, Data: "executed by the model provider"}
	}
	if s.eng.Executor == nil {
		return tools.Result{Success: false, Error: fmt.Sprintf("no executor for tool %q", b.ToolName)}
	}
	return s.eng.Executor.Execute(s.ctx, b.ToolName, b.ToolInput)
}

// streamSearchSources converts successful web-search hits into source
// records, streamed one at a time with the pacing delay before each.
func (s *session) streamSearchSources(data any) {
	for _, hit := range searchHits(data) {
		rec, added := s.collector.FromSearchResult(hit.url, hit.title, hit.snippet)
		if !added {
			continue
		}
		if !s.sleep(s.eng.SourceDelay) {
			return
		}
		s.emit(domain.SourcesEvent(rec))
	}
}

type searchHit struct {
	url, title, snippet string
}

// searchHits accepts the result shapes search executors produce: a bare list
// of hits or an object wrapping one under "results".
func searchHits(data any) []searchHit {
	items, ok := data.([]any)
	if !ok {
		if m, isMap := data.(map[string]any); isMap {
			items, _ = m["results"].([]any)
		}
	}
	var hits []searchHit
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		u, _ := m["url"].(string)
		if u == "" {
			continue
		}
		title, _ := m["title"].(string)
		snippet, _ := m["snippet"].(string)
		hits = append(hits, searchHit{url: u, title: title, snippet: snippet})
	}
	return hits
}

// assistantTurn builds the continuation's assistant message. Thinking blocks
// lead when thinking stays enabled for the continuation, otherwise they are
// stripped.
func assistantTurn(blocks []domain.ContentBlock, keepThinking bool) domain.ProviderMessage {
	var thinking, rest []domain.ContentBlock
	for _, b := range blocks {
		if b.Type == "thinking" {
			if keepThinking {
				thinking = append(thinking, b)
			}
			continue
		}
		rest = append(rest, b)
	}
	return domain.ProviderMessage{Role: domain.RoleAssistant, Blocks: append(thinking, rest...)}
}

// encodeResult flattens a tool result into the text fed back to the model.
func encodeResult(res tools.Result) string {
	if !res.Success {
		if res.Error == "" {
			return "tool execution failed"
		}
		return res.Error
	}
	switch d := res.Data.(type) {
	case nil:
		return "ok"
	case string:
		return d
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Sprintf("%v", d)
		}
		return string(raw)
	}
}

// fail logs a provider failure and emits the terminal error frame.
func (s *session) fail(err error) {
	s.log.Error().Err(err).Msg("session failed")
	s.emit(domain.ErrorEvent(err.Error()))
}
