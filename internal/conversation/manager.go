package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultDomain = "You are an expert in querying SQL Databases."

// Manager composes session turns into prompts and appends new turns in
// arrival order. Operations on the same session are serialized; different
// sessions proceed independently.
type Manager struct {
	Store Store

	// Domain frames the assistant in the system message, typically a short
	// schema summary of the database being queried.
	Domain string

	// MaxTurns bounds how many of the newest turns a prompt includes. The
	// default 0 keeps the history unbounded, which matches the upstream
	// behavior; stored turns are never dropped either way, only the prompt
	// window shrinks.
	MaxTurns int

	// Now is overridable for tests. Nil means time.Now.
	Now func() time.Time

	locks sync.Map
}

func (m *Manager) AppendUser(ctx context.Context, sessionID, content string) error {
	return m.append(ctx, sessionID, Turn{Role: RoleUser, Content: content})
}

func (m *Manager) AppendAssistant(ctx context.Context, sessionID, content string) error {
	return m.append(ctx, sessionID, Turn{Role: RoleAssistant, Content: content})
}

// BuildPrompt derives a fresh prompt: exactly one system message carrying the
// current date and domain framing, then every stored turn in insertion order.
func (m *Manager) BuildPrompt(ctx context.Context, sessionID string) ([]Message, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	session, err := m.Store.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load session: %w", err)
	}

	turns := session.Turns
	if m.MaxTurns > 0 && len(turns) > m.MaxTurns {
		turns = turns[len(turns)-m.MaxTurns:]
	}

	prompt := make([]Message, 0, len(turns)+1)
	prompt = append(prompt, Message{Role: RoleSystem, Content: m.systemContent()})
	for _, turn := range turns {
		prompt = append(prompt, Message{Role: turn.Role, Content: turn.Content})
	}
	return prompt, nil
}

// Reset clears every turn for the session. Subsequent prompts start from
// only the system message.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	unlock := m.lock(sessionID)
	defer unlock()

	if err := m.Store.Delete(ctx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("reset session: %w", err)
	}
	return nil
}

func (m *Manager) append(ctx context.Context, sessionID string, turn Turn) error {
	unlock := m.lock(sessionID)
	defer unlock()

	now := m.now()
	session, err := m.Store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		session = Session{ID: sessionID, CreatedAt: now}
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	}

	session.Turns = append(session.Turns, turn)
	session.UpdatedAt = now
	if err := m.Store.Put(ctx, session); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (m *Manager) systemContent() string {
	domain := m.Domain
	if domain == "" {
		domain = defaultDomain
	}
	return fmt.Sprintf("You are a helpful AI assistant. Today's date is %s. %s",
		m.now().Format("January 02, 2006"), domain)
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) lock(sessionID string) func() {
	value, _ := m.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
