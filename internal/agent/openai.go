package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sqlchat/sqlchat/internal/conversation"
	"github.com/sqlchat/sqlchat/internal/observability"
)

const (
	toolName       = "execute_sql"
	maxToolRows    = 50
	defaultModel   = "gpt-4o"
	defaultTimeout = 60 * time.Second
	defaultSteps   = 8
)

type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxToolSteps int
}

// OpenAIAgent drives an OpenAI-compatible chat-completions endpoint through
// a bounded tool loop: the model requests SQL executions via the execute_sql
// tool, each execution runs against the database collaborator under the
// caller's context, and the loop ends when the model answers in prose.
type OpenAIAgent struct {
	baseURL      string
	apiKey       string
	model        string
	temperature  float64
	maxToolSteps int
	client       *http.Client
	executor     SQLExecutor
}

func NewOpenAIAgent(cfg OpenAIConfig, executor SQLExecutor) (*OpenAIAgent, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("sql executor is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	steps := cfg.MaxToolSteps
	if steps <= 0 {
		steps = defaultSteps
	}
	return &OpenAIAgent{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		model:        model,
		temperature:  cfg.Temperature,
		maxToolSteps: steps,
		client:       &http.Client{Timeout: timeout},
		executor:     executor,
	}, nil
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (a *OpenAIAgent) Invoke(ctx context.Context, prompt []conversation.Message) (Answer, error) {
	messages := make([]wireMessage, 0, len(prompt))
	for _, message := range prompt {
		messages = append(messages, wireMessage{Role: string(message.Role), Content: message.Content})
	}

	for step := 0; step < a.maxToolSteps; step++ {
		reply, err := a.complete(ctx, messages)
		if err != nil {
			return Answer{}, err
		}

		if len(reply.ToolCalls) == 0 {
			if strings.TrimSpace(reply.Content) == "" {
				return Answer{}, &ParseError{Reason: "completion carried neither content nor tool calls"}
			}
			return NormalizeContent(reply.Content), nil
		}

		messages = append(messages, reply)
		for _, call := range reply.ToolCalls {
			result, err := a.runTool(ctx, call)
			if err != nil {
				return Answer{}, err
			}
			messages = append(messages, wireMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}
	return Answer{}, fmt.Errorf("tool loop did not converge after %d steps", a.maxToolSteps)
}

func (a *OpenAIAgent) complete(ctx context.Context, messages []wireMessage) (wireMessage, error) {
	payload := map[string]any{
		"model":       a.model,
		"messages":    messages,
		"temperature": a.temperature,
		"tools": []map[string]any{
			{
				"type": "function",
				"function": map[string]any{
					"name":        toolName,
					"description": "Execute a single read-only SQL query against the database and return its rows.",
					"parameters": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"sql": map[string]any{
								"type":        "string",
								"description": "A single SELECT statement.",
							},
						},
						"required": []string{"sql"},
					},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return wireMessage{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return wireMessage{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return wireMessage{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return wireMessage{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return wireMessage{}, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawBody))
	}

	var parsed struct {
		Choices []struct {
			Message wireMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return wireMessage{}, &ParseError{Reason: "malformed completion body: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return wireMessage{}, &ParseError{Reason: "completion carried no choices"}
	}
	return parsed.Choices[0].Message, nil
}

func (a *OpenAIAgent) runTool(ctx context.Context, call wireToolCall) (string, error) {
	if call.Function.Name != toolName {
		return "", &ParseError{Reason: fmt.Sprintf("unknown tool %q", call.Function.Name)}
	}

	var args struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return "", &ParseError{Reason: "malformed tool arguments: " + err.Error()}
	}
	if strings.TrimSpace(args.SQL) == "" {
		return "", &ParseError{Reason: "tool call carried no sql"}
	}

	observability.IncrementAgentStatement()
	result, err := a.executor.Query(ctx, args.SQL)
	if err != nil {
		// Feed the failure back so the model can correct its query; only
		// the loop bound stops a model that never recovers.
		return fmt.Sprintf("query failed: %v", err), nil
	}

	rows := result.Rows
	truncated := false
	if len(rows) > maxToolRows {
		rows = rows[:maxToolRows]
		truncated = true
	}
	encoded, err := json.Marshal(map[string]any{
		"columns":   result.Columns,
		"rows":      rows,
		"truncated": truncated,
	})
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(encoded), nil
}
