package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/core"
)

// Interface compliance (compile-time assertion)
var (
	_ core.SessionStore = (*InMemoryStore)(nil)
	_ core.SessionStore = (*SQLiteStore)(nil)
)

type storeFactory func(t *testing.T, maxMessages int) core.SessionStore

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(_ *testing.T, max int) core.SessionStore {
			return NewInMemoryStore(func(o *Options) { o.MaxMessages = max })
		},
		"sqlite": func(t *testing.T, max int) core.SessionStore {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"), func(o *SQLiteOptions) { o.MaxMessages = max })
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, maxMessages int, fn func(t *testing.T, s core.SessionStore)) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) { fn(t, factory(t, maxMessages)) })
	}
}

func TestStore_LoadUnseenIsEmpty(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s core.SessionStore) {
		msgs, err := s.Load(context.Background(), "nobody")
		require.NoError(t, err)
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs)
	})
}

func TestStore_AppendOrderAndIdempotentLoad(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s core.SessionStore) {
		ctx := context.Background()
		const n = 7
		for i := 0; i < n; i++ {
			ord, err := s.Append(ctx, "s1", core.NewUserMessage(fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
			assert.Equal(t, int64(i+1), ord)
		}

		first, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, first, n)
		for i, m := range first {
			assert.Equal(t, fmt.Sprintf("m%d", i), m.Content)
			assert.Equal(t, int64(i+1), m.Ordinal)
		}

		second, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestStore_ToolResultDataRoundTrip(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s core.SessionStore) {
		ctx := context.Background()
		_, err := s.Append(ctx, "s1", core.NewToolResultMessage("Oslo: 12.3°C", map[string]any{"worker": "weather", "status": "ok"}))
		require.NoError(t, err)
		msgs, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, core.RoleToolResult, msgs[0].Role)
		assert.Equal(t, "weather", msgs[0].Data["worker"])
	})
}

func TestStore_FIFOCap(t *testing.T) {
	forEachStore(t, 3, func(t *testing.T, s core.SessionStore) {
		ctx := context.Background()
		for i := 1; i <= 3; i++ {
			_, err := s.Append(ctx, "s1", core.NewUserMessage(fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
		}
		ord, err := s.Append(ctx, "s1", core.NewAssistantMessage("m4"))
		require.NoError(t, err)
		assert.Equal(t, int64(4), ord, "ordinals are never reused after eviction")

		msgs, err := s.Load(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, []string{"m2", "m3", "m4"}, contents(msgs))

		for i := 5; i <= 9; i++ {
			_, err := s.Append(ctx, "s1", core.NewUserMessage(fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
			msgs, err := s.Load(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, msgs, 3)
		}
		msgs, err = s.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []int64{7, 8, 9}, ordinals(msgs))
	})
}

func TestStore_ConcurrentSessionsDoNotInterleave(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s core.SessionStore) {
		ctx := context.Background()
		const perSession = 20
		var wg sync.WaitGroup
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for i := 0; i < perSession; i++ {
					_, err := s.Append(ctx, id, core.NewUserMessage(fmt.Sprintf("%s-%d", id, i)))
					assert.NoError(t, err)
				}
			}(id)
		}
		wg.Wait()

		for _, id := range []string{"a", "b"} {
			msgs, err := s.Load(ctx, id)
			require.NoError(t, err)
			require.Len(t, msgs, perSession)
			for i, m := range msgs {
				assert.Equal(t, int64(i+1), m.Ordinal)
				assert.Equal(t, fmt.Sprintf("%s-%d", id, i), m.Content)
			}
		}
	})
}

func TestStore_ConcurrentAppendsSameSessionGetUniqueOrdinals(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s core.SessionStore) {
		ctx := context.Background()
		const n = 16
		ords := make(chan int64, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ord, err := s.Append(ctx, "shared", core.NewUserMessage(fmt.Sprint(i)))
				assert.NoError(t, err)
				ords <- ord
			}(i)
		}
		wg.Wait()
		close(ords)
		seen := map[int64]bool{}
		for o := range ords {
			assert.False(t, seen[o], "duplicate ordinal %d", o)
			seen[o] = true
		}
		msgs, err := s.Load(ctx, "shared")
		require.NoError(t, err)
		assert.Len(t, msgs, n)
	})
}

func TestStore_Validation(t *testing.T) {
	forEachStore(t, 0, func(t *testing.T, s core.SessionStore) {
		ctx := context.Background()
		_, err := s.Append(ctx, "", core.NewUserMessage("x"))
		assert.ErrorIs(t, err, core.ErrInvalidRequest)
		_, err = s.Load(ctx, "")
		assert.ErrorIs(t, err, core.ErrInvalidRequest)
		_, err = s.Append(ctx, "s1", core.Message{Role: "system", Content: "x"})
		assert.ErrorIs(t, err, core.ErrInvalidRequest)
	})
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = s.Append(ctx, "s1", core.NewUserMessage("hello"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	ord, err := s.Append(ctx, "s1", core.NewAssistantMessage("hi"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), ord)

	sess, err := s.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "hi"}, contents(sess.Messages))
	assert.False(t, sess.CreatedAt.IsZero())
}

func TestSQLiteStore_ClosedDatabaseReportsPersistenceError(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Append(context.Background(), "s1", core.NewUserMessage("lost?"))
	assert.ErrorIs(t, err, core.ErrPersistence)
}

func TestInMemoryStore_SessionSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	_, err := s.Append(ctx, "s1", core.NewUserMessage("a"))
	require.NoError(t, err)

	snap, err := s.Session(ctx, "s1")
	require.NoError(t, err)
	snap.Messages[0].Content = "mutated"

	msgs, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a", msgs[0].Content)
}

func contents(msgs []core.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func ordinals(msgs []core.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Ordinal
	}
	return out
}
