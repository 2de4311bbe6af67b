package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"ariachat/internal/conversation"
	"ariachat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func titled(id, title string) *conversation.Conversation {
	c := conversation.New(id)
	c.Title = title
	c.AddUserMessage("<p>hello</p>", nil)
	return c
}

func TestLibrary_SaveAndLoad(t *testing.T) {
	store := newMemStore()
	lib := NewLibrary(store, "user-1", testLogger())
	ctx := context.Background()

	conv := titled("session-a", "Alpha")
	conv.AppendArtifact(domain.Artifact{Payload: "p", URL: "u"})
	require.NoError(t, lib.Save(ctx, conv, nil))

	m, _, ok := store.get("session-a")
	require.True(t, ok)
	assert.Equal(t, "user-1", m.UserID)
	assert.Equal(t, domain.ManifestType, m.Type)

	back, err := lib.Load(ctx, "", "session-a")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", back.Title)
	assert.True(t, conv.History.Equal(&back.History))
	assert.Equal(t, conv.Artifacts, back.Artifacts)
}

func TestLibrary_LoadMissing(t *testing.T) {
	lib := NewLibrary(newMemStore(), "user-1", testLogger())
	_, err := lib.Load(context.Background(), "", "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLibrary_LoadSharedFromAnotherUser(t *testing.T) {
	store := newMemStore()
	owner := NewLibrary(store, "owner", testLogger())
	require.NoError(t, owner.Save(context.Background(), titled("session-s", "Shared"), nil))

	reader := NewLibrary(store, "reader", testLogger())
	_, err := reader.Load(context.Background(), "", "session-s")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	conv, err := reader.Load(context.Background(), "owner", "session-s")
	require.NoError(t, err)
	assert.Equal(t, "Shared", conv.Title)
}

func TestLibrary_ListDropsUntitledAndSortsNewestFirst(t *testing.T) {
	store := newMemStore()
	lib := NewLibrary(store, "user-1", testLogger())
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, c := range []*conversation.Conversation{
		titled("session-old", "Old"),
		titled("session-untitled", ""),
		titled("session-new", "New"),
	} {
		ts := base.Add(time.Duration(i) * time.Hour)
		lib.now = func() time.Time { return ts }
		require.NoError(t, lib.Save(ctx, c, nil))
	}

	list, err := lib.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "session-new", list[0].ID)
	assert.Equal(t, "session-old", list[1].ID)
	assert.Equal(t, []string{"session-untitled"}, store.deleted)
}

func TestLibrary_Share(t *testing.T) {
	store := newMemStore()
	lib := NewLibrary(store, "user-1", testLogger())

	alias, err := lib.Share(context.Background(), titled("session-x", "X"))
	require.NoError(t, err)
	assert.Equal(t, "ws-user-user-1/aria-agents-chats:session-x", alias)

	_, perms, ok := store.get("session-x")
	require.True(t, ok)
	assert.Equal(t, domain.Permissions{"*": "r"}, perms)
}

func TestLibrary_SaveError(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	lib := NewLibrary(store, "user-1", testLogger())

	err := lib.Save(context.Background(), titled("session-x", "X"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session-x")
	assert.ErrorIs(t, err, store.saveErr)
}

func TestLibrary_Delete(t *testing.T) {
	store := newMemStore()
	lib := NewLibrary(store, "user-1", testLogger())
	ctx := context.Background()
	require.NoError(t, lib.Save(ctx, titled("session-x", "X"), nil))

	require.NoError(t, lib.Delete(ctx, "session-x"))
	assert.ErrorIs(t, lib.Delete(ctx, "session-x"), domain.ErrNotFound)
}
