// Package engine turns one normalized chat request into a strictly ordered
// stream of events: it routes to a provider pipeline, drives tool-use rounds,
// collects sources, and guarantees exactly one terminal event per session.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fernlabs/streamd/internal/domain"
	"github.com/fernlabs/streamd/internal/provider"
	"github.com/fernlabs/streamd/internal/sources"
	"github.com/fernlabs/streamd/internal/tools"
)

// AnthropicStreamer streams one Anthropic model turn.
type AnthropicStreamer interface {
	StreamTurn(ctx context.Context, req provider.TurnRequest, ev provider.TurnEvents) (provider.Turn, error)
}

// PerplexityStreamer streams one Perplexity chat completion.
type PerplexityStreamer interface {
	StreamChat(ctx context.Context, model string, messages []domain.ChatMessage, system string, onDelta func(string)) (string, []string, error)
}

// EmitFunc delivers one event to the client. A returned error means the
// client channel is gone; the session records it and winds down.
type EmitFunc func(domain.StreamEvent) error

// Pacing and bounds for one session.
const (
	maxRounds         = 5
	roundDeadline     = 60 * time.Second
	sourcePaceDelay   = 30 * time.Millisecond
	canvasPaceDelay   = 10 * time.Millisecond
	citationPaceDelay = 40 * time.Millisecond

	defaultThinkingBudget = 4096
)

// Fixed user-facing texts for the degraded paths. An orchestrated session
// must never end silent.
const (
	fallbackThinkingText = "I've finished thinking through the problem, but I wasn't able to produce a final answer. Please try rephrasing your request."
	fallbackPlainText    = "I wasn't able to generate a response. Please try again."
	timeoutText          = "I'm sorry, this is taking longer than expected. Please try asking again."
	roundCapText         = "I've reached the tool-use limit for this request. Here's what I found so far."
)

// Engine wires the provider adapters, the tool surface, and logging. One
// Engine serves many concurrent sessions; all per-session state lives in the
// session struct.
type Engine struct {
	Anthropic  AnthropicStreamer
	Perplexity PerplexityStreamer
	Executor   tools.Executor
	Catalog    tools.Catalog
	Log        zerolog.Logger

	// Pacing knobs; tests shrink these to zero.
	SourceDelay   time.Duration
	CanvasDelay   time.Duration
	CitationDelay time.Duration
	RoundDeadline time.Duration
}

// New creates an Engine with production pacing.
func New(anthropic AnthropicStreamer, perplexity PerplexityStreamer, exec tools.Executor, catalog tools.Catalog, log zerolog.Logger) *Engine {
	return &Engine{
		Anthropic:     anthropic,
		Perplexity:    perplexity,
		Executor:      exec,
		Catalog:       catalog,
		Log:           log,
		SourceDelay:   sourcePaceDelay,
		CanvasDelay:   canvasPaceDelay,
		CitationDelay: citationPaceDelay,
		RoundDeadline: roundDeadline,
	}
}

// Run executes one session synchronously: normalize, route, stream, emit the
// terminal event. The returned error reports an emit-side failure (client
// gone); provider and tool failures are delivered as error events instead.
func (e *Engine) Run(ctx context.Context, req Request, emit EmitFunc) error {
	s := &session{
		eng:       e,
		ctx:       ctx,
		emitFn:    emit,
		collector: sources.NewCollector(),
		thinking:  req.Options.EnableThinking,
		useTools:  req.Options.EnableTools,
		log:       e.Log.With().Str("model", req.ModelID).Logger(),
	}

	norm, err := Normalize(req)
	if err != nil {
		s.log.Warn().Err(err).Msg("request rejected")
		s.emit(domain.ErrorEvent(err.Error()))
		return s.emitErr
	}
	s.chat = norm.Messages
	s.system = norm.System
	s.messages = toProviderMessages(norm.Messages)

	pipeline, modelID, err := provider.Resolve(req.ModelID)
	if err != nil {
		s.log.Warn().Err(err).Msg("unroutable model")
		s.emit(domain.ErrorEvent(err.Error()))
		return s.emitErr
	}

	s.log = s.log.With().Str("pipeline", pipeline.String()).Logger()
	s.log.Info().
		Bool("thinking", s.thinking).
		Bool("tools", s.useTools).
		Msg("session start")

	switch pipeline {
	case provider.PipelinePerplexity:
		s.runPerplexity(modelID)
	default:
		s.runAnthropic(modelID, req.Options.ThinkingBudget)
	}

	s.log.Info().
		Int("rounds", s.rounds).
		Int("sources", s.collector.Len()).
		Bool("visible_output", s.visibleOutput).
		Msg("session end")
	return s.emitErr
}

// session is the per-request state machine. A session runs in one goroutine;
// emitMu serializes writes against deltas arriving from an abandoned
// continuation goroutine.
type session struct {
	eng    *Engine
	ctx    context.Context
	emitFn EmitFunc
	log    zerolog.Logger

	chat     []domain.ChatMessage
	messages []domain.ProviderMessage
	system   string
	thinking bool
	useTools bool

	collector *sources.Collector
	rounds    int

	emitMu        sync.Mutex
	terminal      bool
	visibleOutput bool
	emitErr       error
}

// roundGate drops deltas from a continuation that outlived its deadline.
// Guarded by session.emitMu.
type roundGate struct {
	closed bool
}

// close shuts the gate; subsequent gated emits are dropped.
func (s *session) closeGate(g *roundGate) {
	s.emitMu.Lock()
	g.closed = true
	s.emitMu.Unlock()
}

// emit writes one event. Events after the terminal one are dropped. A write
// failure is captured once in the session slot, never thrown into provider
// callbacks.
func (s *session) emit(ev domain.StreamEvent) bool {
	return s.emitGated(nil, ev)
}

// emitGated is emit with an optional round gate.
func (s *session) emitGated(g *roundGate, ev domain.StreamEvent) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.terminal || (g != nil && g.closed) {
		return false
	}
	if err := s.emitFn(ev); err != nil {
		if s.emitErr == nil {
			s.emitErr = err
		}
		return false
	}
	if ev.Terminal() {
		s.terminal = true
	}
	if ev.Type == domain.EventText && ev.Content != "" {
		s.visibleOutput = true
	}
	return true
}

// clientGone reports whether an emit already failed.
func (s *session) clientGone() bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.emitErr != nil
}

// hasVisibleOutput reports whether any visible text reached the client.
func (s *session) hasVisibleOutput() bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	return s.visibleOutput
}

// fallbackText is the never-silent repair message, worded by thinking mode.
func (s *session) fallbackText() string {
	if s.thinking {
		return fallbackThinkingText
	}
	return fallbackPlainText
}

// sleep pauses for the pacing delay, returning early if the request context
// is cancelled.
func (s *session) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-time.After(d):
		return true
	case <-s.ctx.Done():
		return false
	}
}

// toProviderMessages converts normalized chat messages into the block shape
// the Anthropic adapter sends.
func toProviderMessages(msgs []domain.ChatMessage) []domain.ProviderMessage {
	out := make([]domain.ProviderMessage, 0, len(msgs))
	for _, m := range msgs {
		if !m.HasParts() {
			out = append(out, domain.ProviderMessage{Role: m.Role, Text: m.Content})
			continue
		}
		blocks := make([]domain.ContentBlock, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case "text":
				blocks = append(blocks, domain.ContentBlock{Type: "text", Text: p.Text})
			case "image":
				blocks = append(blocks, domain.ContentBlock{Type: "image", ImageURL: p.ImageURL})
			}
		}
		out = append(out, domain.ProviderMessage{Role: m.Role, Blocks: blocks})
	}
	return out
}
