// Package session binds one conversation to one agent loop: it
// serializes invocations (exactly one loop in flight per session) and
// persists history snapshots across restarts.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/droverai/drover/internal/agent"
	"github.com/droverai/drover/internal/convo"
	droverr "github.com/droverai/drover/internal/errors"
	"github.com/droverai/drover/internal/logger"
)

// Session owns one conversation. All entry points go through a
// try-lock: a second query while a loop is in flight fails fast with a
// busy error instead of interleaving histories.
type Session struct {
	id        string
	loop      *agent.Loop
	history   *convo.Store
	snapshots *Store // nil disables persistence

	mu sync.Mutex
}

// New creates a session. An empty id gets a generated one; snapshots
// may be nil for ephemeral sessions.
func New(id string, loop *agent.Loop, history *convo.Store, snapshots *Store) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		id:        id,
		loop:      loop,
		history:   history,
		snapshots: snapshots,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Ask runs one query through the loop.
func (s *Session) Ask(ctx context.Context, query string) (*agent.Result, error) {
	return s.AskStream(ctx, query, nil)
}

// AskStream is Ask with incremental text delivery.
func (s *Session) AskStream(ctx context.Context, query string, onDelta func(string)) (*agent.Result, error) {
	if !s.mu.TryLock() {
		return nil, droverr.LoopBusy()
	}
	defer s.mu.Unlock()

	result, err := s.loop.RunStream(ctx, query, onDelta)
	if err != nil {
		return nil, err
	}
	s.persist()
	return result, nil
}

// Confirm resolves a pending confirmation and continues the loop.
func (s *Session) Confirm(ctx context.Context, granted bool) (*agent.Result, error) {
	return s.ConfirmStream(ctx, granted, nil)
}

// ConfirmStream is Confirm with incremental text delivery.
func (s *Session) ConfirmStream(ctx context.Context, granted bool, onDelta func(string)) (*agent.Result, error) {
	if !s.mu.TryLock() {
		return nil, droverr.LoopBusy()
	}
	defer s.mu.Unlock()

	result, err := s.loop.ResumeStream(ctx, granted, onDelta)
	if err != nil {
		return nil, err
	}
	s.persist()
	return result, nil
}

// Pending reports whether the session is suspended on a confirmation.
func (s *Session) Pending() bool {
	return s.loop.HasPendingConfirmation()
}

// Restore loads the persisted history for this session id into the
// conversation store. Missing snapshots are not an error: the session
// simply starts fresh.
func (s *Session) Restore() error {
	if s.snapshots == nil {
		return nil
	}
	messages, err := s.snapshots.Load(s.id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.history.Replace(messages)
	logger.Info("session %s restored with %d messages", s.id, len(messages))
	return nil
}

// persist saves the current history. Persistence failures are logged
// and swallowed: losing a snapshot must not fail the request.
func (s *Session) persist() {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(s.id, s.history.History()); err != nil {
		logger.Warn("session %s snapshot failed: %v", s.id, err)
	}
}
