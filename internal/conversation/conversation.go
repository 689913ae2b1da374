// Package conversation owns per-session dialogue state: the ordered turns a
// user and the assistant have exchanged, and the prompt derived from them.
package conversation

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a session's history. Turns are never
// mutated after creation and never removed except by a full reset.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is the per-user conversation container, keyed by an external
// identity. Turns preserve strict insertion order.
type Session struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one element of a derived prompt. Prompts are rebuilt from the
// stored turns on every request and never persisted.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Store persists sessions between stateless requests, keyed by a
// caller-supplied session identity.
type Store interface {
	Get(ctx context.Context, sessionID string) (Session, error)
	Put(ctx context.Context, session Session) error
	Delete(ctx context.Context, sessionID string) error
}
