package memstore

import (
	"sort"
	"sync"

	"policyrag/internal/domain"
)

// ConversationLog keeps conversation turns in process memory. History is
// lost on restart; use it for tests and for servers run without memory.path.
type ConversationLog struct {
	mu       sync.RWMutex
	sessions map[string][]domain.ConversationTurn
}

func NewConversationLog() *ConversationLog {
	return &ConversationLog{
		sessions: make(map[string][]domain.ConversationTurn),
	}
}

func (l *ConversationLog) Append(turn domain.ConversationTurn, keep int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	turns := append(l.sessions[turn.SessionID], turn)
	if keep > 0 && len(turns) > keep {
		trimmed := make([]domain.ConversationTurn, keep)
		copy(trimmed, turns[len(turns)-keep:])
		turns = trimmed
	}
	l.sessions[turn.SessionID] = turns
	return nil
}

func (l *ConversationLog) Recent(sessionID string, n int) ([]domain.ConversationTurn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	turns := l.sessions[sessionID]
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]domain.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

func (l *ConversationLog) Delete(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
	return nil
}

func (l *ConversationLog) Sessions() ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (l *ConversationLog) Close() error {
	return nil
}
