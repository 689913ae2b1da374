// Package agent wraps the opaque capability that turns a conversation into a
// textual answer, executing SQL against the database collaborator as an
// internal side effect.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sqlchat/sqlchat/internal/conversation"
	"github.com/sqlchat/sqlchat/internal/db"
)

type Agent interface {
	Invoke(ctx context.Context, prompt []conversation.Message) (Answer, error)
}

// SQLExecutor is the slice of the database collaborator the agent needs.
// *db.DB satisfies it.
type SQLExecutor interface {
	Query(ctx context.Context, statement string) (db.Result, error)
}

// Answer is the normalized agent result. The capability's return shape is
// loosely specified — sometimes plain text, sometimes a keyed object with an
// "output" field — so both are folded into this one type at the boundary.
type Answer struct {
	Output string
}

func AnswerFromText(text string) Answer {
	return Answer{Output: text}
}

func AnswerFromStructured(payload map[string]any) (Answer, error) {
	raw, ok := payload["output"]
	if !ok {
		return Answer{}, fmt.Errorf("structured answer has no output field")
	}
	text, ok := raw.(string)
	if !ok {
		return Answer{}, fmt.Errorf("structured answer output is %T, not a string", raw)
	}
	return Answer{Output: text}, nil
}

// NormalizeContent folds the capability's dual return shape into an Answer:
// a JSON object carrying an "output" string is unwrapped, anything else is
// taken as plain text.
func NormalizeContent(content string) Answer {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") {
		var payload map[string]any
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if answer, err := AnswerFromStructured(payload); err == nil {
				return answer
			}
		}
	}
	return AnswerFromText(content)
}

// ParseError marks answers the agent produced in a shape that could not be
// parsed — malformed tool-call syntax, empty completions. Callers recover
// from it; every other error is a transport failure and propagates.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "agent response could not be parsed: " + e.Reason
}
