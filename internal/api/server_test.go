package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pennaio/penna/internal/api"
	"github.com/pennaio/penna/internal/conversation"
	"github.com/pennaio/penna/internal/log"
	"github.com/pennaio/penna/internal/model"
	"github.com/pennaio/penna/internal/testutil"
	"github.com/pennaio/penna/internal/tools"
	"github.com/pennaio/penna/internal/turn"
)

type sseEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data += strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	return events
}

func newServer(t *testing.T, backend model.Backend, inv *tools.Invoker) (*httptest.Server, *conversation.Registry) {
	t.Helper()
	registry := conversation.NewRegistry()
	ctrl := turn.New(backend, inv, nil, turn.Config{Model: "mock/m", System: "persona"}, log.NewNop())
	srv, err := api.NewServer(api.ServerConfig{
		Logger:     log.NewNop(),
		Registry:   registry,
		Controller: ctrl,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, registry
}

func createConversation(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/conversations", "application/json", nil)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var body struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return body.ConversationID
}

func postMessage(t *testing.T, ts *httptest.Server, convID, message string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(
		fmt.Sprintf("%s/api/v1/conversations/%s/messages", ts.URL, convID),
		"application/json",
		strings.NewReader(fmt.Sprintf(`{"message": %q}`, message)),
	)
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	defer resp.Body.Close()
	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
	}
	return resp, sb.String()
}

func TestSendStreamsChunksAndDone(t *testing.T) {
	backend := &testutil.StubBackend{Events: testutil.TextEvents("Hel", "lo ", "there.")}
	ts, _ := newServer(t, backend, tools.NewInvoker(log.NewNop()))

	convID := createConversation(t, ts)
	resp, body := postMessage(t, ts, convID, "hi")
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := parseSSE(t, body)
	var rebuilt string
	var doneText string
	for _, ev := range events {
		switch ev.name {
		case "chunk":
			var chunk struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(ev.data), &chunk); err != nil {
				t.Fatalf("decode chunk: %v", err)
			}
			rebuilt += chunk.Delta
		case "done":
			var done struct {
				ID   string `json:"id"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal([]byte(ev.data), &done); err != nil {
				t.Fatalf("decode done: %v", err)
			}
			doneText = done.Text
		case "error":
			t.Fatalf("unexpected error event: %s", ev.data)
		}
	}
	if rebuilt != "Hello there." {
		t.Fatalf("streamed text = %q", rebuilt)
	}
	if doneText != "Hello there." {
		t.Fatalf("done text = %q", doneText)
	}
	if events[len(events)-1].name != "done" {
		t.Fatalf("last event = %q", events[len(events)-1].name)
	}
}

func TestSendEmitsToolEvent(t *testing.T) {
	d, err := tools.NewTool("search", "search",
		func(_ context.Context, in tools.SearchInput) ([]tools.Article, error) {
			return []tools.Article{{ID: "kb-1", Title: "Found: " + in.Query}}, nil
		})
	if err != nil {
		t.Fatalf("NewTool: %v", err)
	}
	args, _ := json.Marshal(tools.SearchInput{Query: "sms"})
	backend := &testutil.StubBackend{Events: []model.Event{
		model.ToolInvocation{Name: "search", Arguments: args},
	}}
	ts, _ := newServer(t, backend, tools.NewInvoker(log.NewNop(), d))

	convID := createConversation(t, ts)
	_, body := postMessage(t, ts, convID, "find sms docs")

	events := parseSSE(t, body)
	var sawTool, sawDone bool
	for _, ev := range events {
		switch ev.name {
		case "tool":
			sawTool = true
			var tool struct {
				Tool   string          `json:"tool"`
				CallID string          `json:"callId"`
				Result json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal([]byte(ev.data), &tool); err != nil {
				t.Fatalf("decode tool event: %v", err)
			}
			if tool.Tool != "search" || tool.CallID == "" {
				t.Fatalf("tool event = %+v", tool)
			}
		case "done":
			sawDone = true
		case "error":
			t.Fatalf("unexpected error event: %s", ev.data)
		}
	}
	if !sawTool || !sawDone {
		t.Fatalf("events: tool=%v done=%v", sawTool, sawDone)
	}
}

func TestSendBackendFailureEmitsError(t *testing.T) {
	backend := &testutil.StubBackend{Err: fmt.Errorf("model unavailable")}
	ts, _ := newServer(t, backend, tools.NewInvoker(log.NewNop()))

	convID := createConversation(t, ts)
	_, body := postMessage(t, ts, convID, "hi")

	events := parseSSE(t, body)
	if len(events) == 0 || events[len(events)-1].name != "error" {
		t.Fatalf("events = %+v, want trailing error", events)
	}
}

func TestMessagesProjection(t *testing.T) {
	backend := &testutil.StubBackend{Events: testutil.TextEvents("hello")}
	ts, registry := newServer(t, backend, tools.NewInvoker(log.NewNop()))

	convID := createConversation(t, ts)
	postMessage(t, ts, convID, "hi")

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/conversations/%s/messages", ts.URL, convID))
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	defer resp.Body.Close()
	var nodes []struct {
		ID   string `json:"id"`
		View *struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"view"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		t.Fatalf("decode projection: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("projection has %d nodes", len(nodes))
	}
	if nodes[0].View == nil || nodes[0].View.Role != "user" || nodes[0].View.Text != "hi" {
		t.Fatalf("first node = %+v", nodes[0])
	}
	if nodes[1].View == nil || nodes[1].View.Role != "assistant" || nodes[1].View.Text != "hello" {
		t.Fatalf("second node = %+v", nodes[1])
	}
	if registry.Len() != 1 {
		t.Fatalf("registry has %d conversations", registry.Len())
	}
}

func TestUnknownConversationIs404(t *testing.T) {
	backend := &testutil.StubBackend{}
	ts, _ := newServer(t, backend, tools.NewInvoker(log.NewNop()))

	resp, err := http.Get(ts.URL + "/api/v1/conversations/9d4f1c2e-0000-0000-0000-000000000000/messages")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	backend := &testutil.StubBackend{}
	ts, _ := newServer(t, backend, tools.NewInvoker(log.NewNop()))

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
