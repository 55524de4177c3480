package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"policyrag/internal/domain"
	"policyrag/internal/logger"
	"policyrag/internal/port"
)

// ConversationMemory keeps the last maxTurns turns of every session. Writes
// to one session are serialised; different sessions never wait on each other.
type ConversationMemory struct {
	store    port.ConversationLog
	maxTurns int
	locks    *sessionLocks
	now      func() time.Time
	log      *zap.Logger
}

func NewConversationMemory(store port.ConversationLog, maxTurns int, log *zap.Logger) (*ConversationMemory, error) {
	if maxTurns <= 0 {
		return nil, fmt.Errorf("%w: max turns must be positive, got %d", domain.ErrConfig, maxTurns)
	}
	return &ConversationMemory{
		store:    store,
		maxTurns: maxTurns,
		locks:    newSessionLocks(),
		now:      time.Now,
		log:      logger.OrNop(log).Named("memory"),
	}, nil
}

func validateSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is empty", domain.ErrConfig)
	}
	return nil
}

// AppendTurn durably records a turn, evicting the oldest turns of the session
// beyond maxTurns. A zero timestamp is set to now.
func (m *ConversationMemory) AppendTurn(ctx context.Context, turn domain.ConversationTurn) error {
	if err := validateSession(turn.SessionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.now().UTC()
	}

	unlock := m.locks.lock(turn.SessionID)
	defer unlock()

	if err := m.store.Append(turn, m.maxTurns); err != nil {
		return err
	}
	m.log.Debug("turn recorded", zap.String("session", turn.SessionID), zap.Bool("fallback", turn.Fallback))
	return nil
}

// GetRecent returns the newest n turns of a session, most recent last.
func (m *ConversationMemory) GetRecent(ctx context.Context, sessionID string, n int) ([]domain.ConversationTurn, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n must be positive, got %d", domain.ErrConfig, n)
	}
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.store.Recent(sessionID, n)
}

// History returns every retained turn of a session.
func (m *ConversationMemory) History(ctx context.Context, sessionID string) ([]domain.ConversationTurn, error) {
	return m.GetRecent(ctx, sessionID, m.maxTurns)
}

// Clear forgets a session. Once it returns, GetRecent sees no turns.
func (m *ConversationMemory) Clear(ctx context.Context, sessionID string) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := m.locks.lock(sessionID)
	defer unlock()

	if err := m.store.Delete(sessionID); err != nil {
		return err
	}
	m.log.Info("session cleared", zap.String("session", sessionID))
	return nil
}

// Sessions lists sessions with stored history.
func (m *ConversationMemory) Sessions() ([]string, error) {
	return m.store.Sessions()
}

func (m *ConversationMemory) MaxTurns() int {
	return m.maxTurns
}

// sessionLocks hands out one mutex per session id and forgets it once no
// goroutine holds or waits for it.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

func (s *sessionLocks) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *sessionLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
