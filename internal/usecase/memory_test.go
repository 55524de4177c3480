package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"policyrag/internal/adapter/memstore"
	"policyrag/internal/adapter/store"
	"policyrag/internal/domain"
	"policyrag/internal/port"
)

func memoryTurn(session string, i int) domain.ConversationTurn {
	return domain.ConversationTurn{
		SessionID: session,
		Question:  fmt.Sprintf("q%d", i),
		Answer:    fmt.Sprintf("a%d", i),
	}
}

func logs(t *testing.T) map[string]port.ConversationLog {
	t.Helper()
	bolt, err := store.NewBoltConversationLog(filepath.Join(t.TempDir(), "conv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })
	return map[string]port.ConversationLog{
		"memory": memstore.NewConversationLog(),
		"bolt":   bolt,
	}
}

func TestNewConversationMemory_InvalidMaxTurns(t *testing.T) {
	_, err := NewConversationMemory(memstore.NewConversationLog(), 0, nil)
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestConversationMemory_BoundedFIFO(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			const maxTurns = 4
			m, err := NewConversationMemory(log, maxTurns, nil)
			require.NoError(t, err)
			ctx := context.Background()

			for i := 0; i < maxTurns+5; i++ {
				require.NoError(t, m.AppendTurn(ctx, memoryTurn("s1", i)))
			}

			turns, err := m.GetRecent(ctx, "s1", 100)
			require.NoError(t, err)
			require.Len(t, turns, maxTurns)
			assert.Equal(t, "q5", turns[0].Question)
			assert.Equal(t, "q8", turns[maxTurns-1].Question)
			assert.False(t, turns[0].Timestamp.IsZero())

			recent, err := m.GetRecent(ctx, "s1", 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"q7", "q8"}, []string{recent[0].Question, recent[1].Question})
		})
	}
}

func TestConversationMemory_ClearIsImmediate(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			m, err := NewConversationMemory(log, 10, nil)
			require.NoError(t, err)
			ctx := context.Background()

			require.NoError(t, m.AppendTurn(ctx, memoryTurn("s1", 0)))
			require.NoError(t, m.AppendTurn(ctx, memoryTurn("s2", 0)))
			require.NoError(t, m.Clear(ctx, "s1"))

			turns, err := m.GetRecent(ctx, "s1", 5)
			require.NoError(t, err)
			assert.Empty(t, turns)

			history, err := m.History(ctx, "s2")
			require.NoError(t, err)
			assert.Len(t, history, 1)

			sessions, err := m.Sessions()
			require.NoError(t, err)
			assert.Equal(t, []string{"s2"}, sessions)
		})
	}
}

func TestConversationMemory_Validation(t *testing.T) {
	m, err := NewConversationMemory(memstore.NewConversationLog(), 5, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.GetRecent(ctx, "s1", 0)
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = m.GetRecent(ctx, "", 3)
	assert.ErrorIs(t, err, domain.ErrConfig)

	assert.ErrorIs(t, m.AppendTurn(ctx, domain.ConversationTurn{Question: "q"}), domain.ErrConfig)
	assert.ErrorIs(t, m.Clear(ctx, " "), domain.ErrConfig)
	assert.Equal(t, 5, m.MaxTurns())
}

func TestConversationMemory_CancelledContext(t *testing.T) {
	m, err := NewConversationMemory(memstore.NewConversationLog(), 5, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.AppendTurn(ctx, memoryTurn("s1", 0)), context.Canceled)

	turns, err := m.GetRecent(context.Background(), "s1", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestConversationMemory_ConcurrentSessions(t *testing.T) {
	for name, log := range logs(t) {
		t.Run(name, func(t *testing.T) {
			const maxTurns = 6
			m, err := NewConversationMemory(log, maxTurns, nil)
			require.NoError(t, err)
			ctx := context.Background()

			var wg sync.WaitGroup
			for s := 0; s < 4; s++ {
				for w := 0; w < 3; w++ {
					wg.Add(1)
					go func(s int) {
						defer wg.Done()
						for i := 0; i < 5; i++ {
							assert.NoError(t, m.AppendTurn(ctx, memoryTurn(fmt.Sprintf("s%d", s), i)))
						}
					}(s)
				}
			}
			wg.Wait()

			for s := 0; s < 4; s++ {
				turns, err := m.History(ctx, fmt.Sprintf("s%d", s))
				require.NoError(t, err)
				assert.Len(t, turns, maxTurns)
				for _, turn := range turns {
					assert.Equal(t, fmt.Sprintf("s%d", s), turn.SessionID)
				}
			}
			assert.Equal(t, 0, m.locks.size())
		})
	}
}
