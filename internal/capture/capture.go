// Package capture records the SQL statements the agent executes as a side
// effect of answering a question. The agent's public contract only returns
// the final text, so observing the database layer is the one reliable way to
// recover the exact statement behind an answer.
//
// Capture is scoped per in-flight request: each request attaches its own
// Recorder to the context it invokes the agent with, and the shared observer
// writes into whichever recorder the executing statement's context carries.
// Concurrent requests therefore never see each other's statements.
package capture

import (
	"context"
	"sync"

	"github.com/sqlchat/sqlchat/internal/db"
)

type ctxKey struct{}

// Recorder holds the most recent statement observed under one request. Only
// the latest value is kept; every execution overwrites the previous one.
type Recorder struct {
	mu   sync.Mutex
	last string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record overwrites the captured statement. It never fails.
func (r *Recorder) Record(statement string) {
	r.mu.Lock()
	r.last = statement
	r.mu.Unlock()
}

// Last returns the most recently captured statement, or "" when no statement
// has executed under this recorder's request.
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func WithRecorder(ctx context.Context, recorder *Recorder) context.Context {
	return context.WithValue(ctx, ctxKey{}, recorder)
}

func FromContext(ctx context.Context) *Recorder {
	recorder, ok := ctx.Value(ctxKey{}).(*Recorder)
	if !ok {
		return nil
	}
	return recorder
}

// Observer returns the statement observer to register on the database layer.
// Statements executed under a context without a recorder are ignored.
func Observer() db.StatementObserver {
	return func(ctx context.Context, statement string) {
		if recorder := FromContext(ctx); recorder != nil {
			recorder.Record(statement)
		}
	}
}
