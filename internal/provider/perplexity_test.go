package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fernlabs/streamd/internal/domain"
)

func TestPerplexityClient_StreamChat(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Go is \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"great\"}}],\"citations\":[\"https://go.dev\"]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"citations\":[\"https://go.dev\",\"https://go.dev/doc\"]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	var deltas []string
	client := &PerplexityClient{APIKey: "test-key", BaseURL: srv.URL}
	text, citations, err := client.StreamChat(
		context.Background(),
		"sonar-pro",
		[]domain.ChatMessage{{Role: "user", Content: "tell me about go"}},
		"be brief",
		func(d string) { deltas = append(deltas, d) },
	)
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}

	if text != "Go is great" {
		t.Errorf("text = %q", text)
	}
	if strings.Join(deltas, "") != text {
		t.Errorf("deltas %q do not reassemble text %q", strings.Join(deltas, ""), text)
	}
	if len(citations) != 2 || citations[1] != "https://go.dev/doc" {
		t.Errorf("citations = %v", citations)
	}

	var req pplxRequest
	if err := json.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if !req.Stream || req.Model != "sonar-pro" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[0].Content != "be brief" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestPerplexityClient_StreamChat_apiError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"bad key"}}`)
	}))
	defer srv.Close()

	client := &PerplexityClient{APIKey: "bad", BaseURL: srv.URL}
	_, _, err := client.StreamChat(context.Background(), "sonar", []domain.ChatMessage{{Role: "user", Content: "hi"}}, "", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 401 {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
}

func TestParsePerplexitySSE_salvagesTextOnDisconnect(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}],\"citations\":[\"https://example.com\"]}\n\n"

	text, citations, err := parsePerplexitySSE(&lenientReader{r: &errAfterReader{data: body}}, nil)
	if err != nil {
		t.Fatalf("expected salvage, got error: %v", err)
	}
	if text != "partial" {
		t.Errorf("text = %q", text)
	}
	if len(citations) != 1 {
		t.Errorf("citations = %v", citations)
	}
}

func TestParsePerplexitySSE_emptyDisconnectFails(t *testing.T) {
	if _, _, err := parsePerplexitySSE(&lenientReader{r: &errAfterReader{data: ""}}, nil); err == nil {
		t.Fatal("disconnect with no text must fail")
	}
}

func TestBuildPerplexityMessages_flattensParts(t *testing.T) {
	msgs := buildPerplexityMessages([]domain.ChatMessage{
		{Role: "user", Parts: []domain.ContentPart{
			{Type: "text", Text: "what is this"},
			{Type: "image", ImageURL: "data:image/png;base64,AAAA"},
		}},
	}, "")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Content != "what is this" {
		t.Errorf("content = %q", msgs[0].Content)
	}
}
