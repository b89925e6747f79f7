package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/meikuraledutech/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, ttl time.Duration) (*SessionStore, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store := New(Options{Addr: mr.Addr(), TTL: ttl})
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func session(id, flowID string, started time.Time) *flow.Session {
	return &flow.Session{
		ID:            id,
		FlowID:        flowID,
		VersionID:     "v1",
		CurrentNodeID: "q",
		Answers:       map[string]flow.Answer{},
		Variables:     flow.Variables{"name": {Value: flow.String("ana"), Scope: flow.ScopeGlobal}},
		Path:          []string{"start", "q"},
		Timings:       map[string]time.Duration{},
		StartedAt:     started,
	}
}

func TestSessionStore(t *testing.T) {
	store, mr := newStore(t, 0)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	s := session("s1", "f1", now)
	require.NoError(t, store.CreateSession(ctx, s))
	assert.ErrorIs(t, store.CreateSession(ctx, s), flow.ErrConflict)
	assert.True(t, mr.Exists("flow:session:s1"))

	loaded, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "q", loaded.CurrentNodeID)
	assert.Equal(t, flow.String("ana"), loaded.Variables.Get("name"))

	missing, err := store.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	stale, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)

	done := now.Add(time.Minute)
	loaded.CurrentNodeID = "end"
	loaded.CompletedAt = &done
	require.NoError(t, store.UpdateSession(ctx, loaded))
	assert.Equal(t, 1, loaded.Revision)

	stale.CurrentNodeID = "other"
	assert.ErrorIs(t, store.UpdateSession(ctx, stale), flow.ErrConflict)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "end", got.CurrentNodeID)
	assert.True(t, got.Completed())
	assert.Equal(t, 1, got.Revision)

	assert.ErrorIs(t, store.UpdateSession(ctx, session("s9", "f1", now)), flow.ErrSessionNotFound)
}

func TestSessionStore_List(t *testing.T) {
	store, _ := newStore(t, 0)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateSession(ctx, session("b", "f1", now)))
	require.NoError(t, store.CreateSession(ctx, session("a", "f1", now.Add(-time.Hour))))
	require.NoError(t, store.CreateSession(ctx, session("c", "f2", now)))

	list, err := store.ListSessions(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)

	empty, err := store.ListSessions(ctx, "f3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSessionStore_TTL(t *testing.T) {
	store, mr := newStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, session("s1", "f1", time.Now())))
	assert.Equal(t, time.Hour, mr.TTL("flow:session:s1"))
	assert.Equal(t, time.Hour, mr.TTL("flow:flow:f1:sessions"))

	mr.FastForward(2 * time.Hour)
	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
