package artifact

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"ariachat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	fn    string
	authz string
	body  map[string]any
}

// fakeManager is an in-memory artifact manager keyed by "workspace/alias".
type fakeManager struct {
	mu        sync.Mutex
	calls     []recordedCall
	artifacts map[string]map[string]any
	failures  map[string]int // fn -> remaining 503 answers
}

func newFakeManager() *fakeManager {
	return &fakeManager{artifacts: map[string]map[string]any{}, failures: map[string]int{}}
}

func (f *fakeManager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fn := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(raw, &body)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{fn: fn, authz: r.Header.Get("Authorization"), body: body})

	if f.failures[fn] > 0 {
		f.failures[fn]--
		http.Error(w, "try later", http.StatusServiceUnavailable)
		return
	}

	str := func(k string) string {
		s, _ := body[k].(string)
		return s
	}
	switch fn {
	case "create":
		parent := str("workspace")
		if p := str("parent_id"); p != "" {
			parent = p[:strings.Index(p, "/")]
		}
		key := parent + "/" + str("alias")
		if _, ok := f.artifacts[key]; ok {
			http.Error(w, "alias exists", http.StatusConflict)
			return
		}
		f.artifacts[key] = map[string]any{"id": key, "manifest": body["manifest"], "parent": str("parent_id")}
		_ = json.NewEncoder(w).Encode(f.artifacts[key])
	case "edit":
		a, ok := f.artifacts[str("artifact_id")]
		if !ok {
			http.Error(w, "missing", http.StatusNotFound)
			return
		}
		a["manifest"] = body["manifest"]
		_ = json.NewEncoder(w).Encode(a)
	case "commit":
		_ = json.NewEncoder(w).Encode(map[string]any{})
	case "read":
		id := strings.Replace(str("artifact_id"), "/"+domain.CollectionAlias+":", "/", 1)
		a, ok := f.artifacts[id]
		if !ok {
			http.Error(w, "missing", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(a)
	case "list_children":
		out := []map[string]any{}
		for _, a := range f.artifacts {
			if a["parent"] == str("parent_id") {
				out = append(out, a)
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	case "delete":
		if _, ok := f.artifacts[str("artifact_id")]; !ok {
			http.Error(w, "missing", http.StatusNotFound)
			return
		}
		delete(f.artifacts, str("artifact_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeManager) fns() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.fn)
	}
	return out
}

func newTestStore(t *testing.T, fm *fakeManager) *Store {
	t.Helper()
	srv := httptest.NewServer(fm)
	t.Cleanup(srv.Close)
	s := New(Options{
		BaseURL: srv.URL,
		Token:   "tok",
		UserID:  "u1",
		Timeout: 5 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	s.retryUnit = time.Millisecond
	return s
}

func manifest(id, name string) domain.Manifest {
	return domain.Manifest{
		ID:        id,
		Name:      name,
		Type:      domain.ManifestType,
		Timestamp: "2026-05-01T10:00:00Z",
		UserID:    "u1",
	}
}

func TestStore_EnsureCollectionIsIdempotent(t *testing.T) {
	fm := newFakeManager()
	s := newTestStore(t, fm)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx))
	require.NoError(t, s.EnsureCollection(ctx))

	fm.mu.Lock()
	defer fm.mu.Unlock()
	require.Len(t, fm.calls, 2)
	assert.Equal(t, "Bearer tok", fm.calls[0].authz)
	assert.Equal(t, "ws-user-u1", fm.calls[0].body["workspace"])
	assert.Equal(t, "aria-agents-chats", fm.calls[0].body["alias"])
	assert.Equal(t, "collection", fm.calls[0].body["type"])
}

func TestStore_SaveCreatesThenEditsAndCommits(t *testing.T) {
	fm := newFakeManager()
	s := newTestStore(t, fm)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx))

	require.NoError(t, s.Save(ctx, manifest("session-a", "First"), nil))
	require.NoError(t, s.Save(ctx, manifest("session-a", "Renamed"), domain.ShareReadOnly))

	assert.Equal(t, []string{"create", "create", "create", "edit", "commit"}, fm.fns())

	fm.mu.Lock()
	edit := fm.calls[3]
	fm.mu.Unlock()
	assert.Equal(t, "ws-user-u1/session-a", edit.body["artifact_id"])
	assert.Equal(t, map[string]any{"*": "r"}, edit.body["permissions"])

	m, err := s.Read(ctx, "", "session-a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", m.Name)
}

func TestStore_ListReturnsCollectionChildren(t *testing.T) {
	fm := newFakeManager()
	s := newTestStore(t, fm)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx))
	require.NoError(t, s.Save(ctx, manifest("session-a", "A"), nil))
	require.NoError(t, s.Save(ctx, manifest("session-b", "B"), nil))

	list, err := s.List(ctx)
	require.NoError(t, err)
	var names []string
	for _, m := range list {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []string{"A", "B"}, names)
}

func TestStore_ReadRetriesTransientFailures(t *testing.T) {
	fm := newFakeManager()
	s := newTestStore(t, fm)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx))
	require.NoError(t, s.Save(ctx, manifest("session-a", "A"), nil))

	fm.mu.Lock()
	fm.failures["read"] = 2
	fm.mu.Unlock()

	m, err := s.Read(ctx, "u1", "session-a")
	require.NoError(t, err)
	assert.Equal(t, "A", m.Name)
	assert.Equal(t, []string{"create", "create", "read", "read", "read"}, fm.fns())
}

func TestStore_WritesAreNotRetried(t *testing.T) {
	fm := newFakeManager()
	s := newTestStore(t, fm)
	fm.failures["create"] = 1

	err := s.Save(context.Background(), manifest("session-a", "A"), nil)
	require.Error(t, err)
	assert.True(t, isStatus(err, http.StatusServiceUnavailable))
	assert.Equal(t, []string{"create"}, fm.fns())
}

func TestStore_NotFound(t *testing.T) {
	s := newTestStore(t, newFakeManager())
	ctx := context.Background()

	_, err := s.Read(ctx, "", "session-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "session-missing"), domain.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	fm := newFakeManager()
	s := newTestStore(t, fm)
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx))
	require.NoError(t, s.Save(ctx, manifest("session-a", "A"), nil))

	require.NoError(t, s.Delete(ctx, "session-a"))
	_, err := s.Read(ctx, "", "session-a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_ReadSharedChatFromAnotherWorkspace(t *testing.T) {
	fm := newFakeManager()
	s := newTestStore(t, fm)
	fm.artifacts["ws-user-owner/session-s"] = map[string]any{
		"id":       "ws-user-owner/session-s",
		"manifest": map[string]any{"id": "session-s", "name": "Shared"},
	}

	m, err := s.Read(context.Background(), "owner", "session-s")
	require.NoError(t, err)
	assert.Equal(t, "Shared", m.Name)

	fm.mu.Lock()
	defer fm.mu.Unlock()
	assert.Equal(t, "ws-user-owner/aria-agents-chats:session-s", fm.calls[0].body["artifact_id"])
}

func TestBackoffGrowsQuadratically(t *testing.T) {
	for attempt := 1; attempt <= 3; attempt++ {
		d := backoff(attempt, time.Second)
		base := time.Duration(attempt*attempt) * time.Second
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/2)
	}
}
