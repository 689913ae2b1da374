package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sqlchat/sqlchat/internal/conversation"
	"github.com/sqlchat/sqlchat/internal/db"
)

type fakeExecutor struct {
	statements []string
	result     db.Result
	err        error
}

func (f *fakeExecutor) Query(_ context.Context, statement string) (db.Result, error) {
	f.statements = append(f.statements, statement)
	return f.result, f.err
}

// scriptedServer returns each canned completion body in order.
func scriptedServer(t *testing.T, bodies ...string) *httptest.Server {
	t.Helper()
	index := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if index >= len(bodies) {
			t.Errorf("unexpected extra completion request %d", index)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(bodies[index]))
		index++
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestAgent(t *testing.T, server *httptest.Server, executor SQLExecutor) *OpenAIAgent {
	t.Helper()
	a, err := NewOpenAIAgent(OpenAIConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	}, executor)
	if err != nil {
		t.Fatalf("NewOpenAIAgent() error = %v", err)
	}
	return a
}

func prompt(question string) []conversation.Message {
	return []conversation.Message{
		{Role: conversation.RoleSystem, Content: "You are a helpful AI assistant."},
		{Role: conversation.RoleUser, Content: question},
	}
}

func completionWithContent(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

func completionWithToolCall(id, arguments string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]any{
					{
						"id":   id,
						"type": "function",
						"function": map[string]any{
							"name":      "execute_sql",
							"arguments": arguments,
						},
					},
				},
			}},
		},
	})
	return string(body)
}

func TestInvokeReturnsPlainTextAnswer(t *testing.T) {
	server := scriptedServer(t, completionWithContent("There are 42 patients."))
	a := newTestAgent(t, server, &fakeExecutor{})

	answer, err := a.Invoke(context.Background(), prompt("How many patients are there?"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if answer.Output != "There are 42 patients." {
		t.Fatalf("Output = %q", answer.Output)
	}
}

func TestInvokeUnwrapsStructuredOutput(t *testing.T) {
	server := scriptedServer(t, completionWithContent(`{"output": "There are 42 patients."}`))
	a := newTestAgent(t, server, &fakeExecutor{})

	answer, err := a.Invoke(context.Background(), prompt("How many patients are there?"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if answer.Output != "There are 42 patients." {
		t.Fatalf("Output = %q", answer.Output)
	}
}

func TestInvokeRunsToolCallsThenAnswers(t *testing.T) {
	executor := &fakeExecutor{result: db.Result{
		Columns: []string{"count"},
		Rows:    [][]any{{int64(42)}},
	}}
	server := scriptedServer(t,
		completionWithToolCall("call-1", `{"sql": "SELECT COUNT(*) AS count FROM patients"}`),
		completionWithContent("There are 42 patients."),
	)
	a := newTestAgent(t, server, executor)

	answer, err := a.Invoke(context.Background(), prompt("How many patients are there?"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if answer.Output != "There are 42 patients." {
		t.Fatalf("Output = %q", answer.Output)
	}
	if len(executor.statements) != 1 || executor.statements[0] != "SELECT COUNT(*) AS count FROM patients" {
		t.Fatalf("executed statements = %v", executor.statements)
	}
}

func TestInvokeFeedsQueryFailuresBackToModel(t *testing.T) {
	executor := &fakeExecutor{err: errors.New("no such table: patientz")}
	server := scriptedServer(t,
		completionWithToolCall("call-1", `{"sql": "SELECT COUNT(*) FROM patientz"}`),
		completionWithContent("I could not find that table."),
	)
	a := newTestAgent(t, server, executor)

	answer, err := a.Invoke(context.Background(), prompt("How many patientz?"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if answer.Output != "I could not find that table." {
		t.Fatalf("Output = %q", answer.Output)
	}
}

func TestInvokeMalformedToolArgumentsIsParseError(t *testing.T) {
	server := scriptedServer(t, completionWithToolCall("call-1", `{"sql": `))
	a := newTestAgent(t, server, &fakeExecutor{})

	_, err := a.Invoke(context.Background(), prompt("chart please"))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Invoke() error = %v, want *ParseError", err)
	}
}

func TestInvokeEmptyCompletionIsParseError(t *testing.T) {
	server := scriptedServer(t, completionWithContent(""))
	a := newTestAgent(t, server, &fakeExecutor{})

	_, err := a.Invoke(context.Background(), prompt("hello"))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Invoke() error = %v, want *ParseError", err)
	}
}

func TestInvokeTransportFailureIsNotParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	a := newTestAgent(t, server, &fakeExecutor{})

	_, err := a.Invoke(context.Background(), prompt("hello"))
	if err == nil {
		t.Fatal("expected transport error")
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		t.Fatalf("transport failure classified as parse error: %v", err)
	}
}

func TestNormalizeContent(t *testing.T) {
	if got := NormalizeContent("plain answer").Output; got != "plain answer" {
		t.Fatalf("Output = %q", got)
	}
	if got := NormalizeContent(`{"output": "wrapped"}`).Output; got != "wrapped" {
		t.Fatalf("Output = %q", got)
	}
	// JSON without an output field stays literal.
	if got := NormalizeContent(`{"answer": "x"}`).Output; got != `{"answer": "x"}` {
		t.Fatalf("Output = %q", got)
	}
}
