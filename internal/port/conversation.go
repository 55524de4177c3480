package port

import "policyrag/internal/domain"

// ConversationLog is the durable store behind conversation memory. Turns are
// kept per session in append order.
type ConversationLog interface {
	// Append stores turn and, in the same write, drops the oldest turns of
	// its session so that at most keep remain.
	Append(turn domain.ConversationTurn, keep int) error

	// Recent returns up to n of the newest turns, oldest first.
	Recent(sessionID string, n int) ([]domain.ConversationTurn, error)

	// Delete removes every turn of the session.
	Delete(sessionID string) error

	// Sessions lists the ids of sessions that hold at least one turn.
	Sessions() ([]string, error)

	Close() error
}
