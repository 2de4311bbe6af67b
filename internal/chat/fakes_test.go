package chat

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"ariachat/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func hdr(sid, qid, name string) domain.EventHeader {
	return domain.EventHeader{QueryID: qid, Name: name, Session: domain.SessionRef{ID: sid}}
}

func startEv(sid, qid, name string) domain.ProgressEvent {
	return domain.StartEvent{EventHeader: hdr(sid, qid, name)}
}

func progressEv(sid, qid, name, args string) domain.ProgressEvent {
	return domain.InProgressEvent{EventHeader: hdr(sid, qid, name), Arguments: args}
}

func finishedEv(sid, qid, name, content, args string) domain.ProgressEvent {
	return domain.FinishedEvent{EventHeader: hdr(sid, qid, name), Content: content, Arguments: args}
}

// step is one callback the fake service delivers. Exactly one of ev,
// artifact or hook is set.
type step struct {
	ev       domain.ProgressEvent
	artifact *domain.Artifact
	hook     func()
}

func evStep(ev domain.ProgressEvent) step { return step{ev: ev} }
func artStep(a domain.Artifact) step      { return step{artifact: &a} }
func hookStep(f func()) step              { return step{hook: f} }

// fakeService answers title requests with a canned response and replays a
// script for every other request.
type fakeService struct {
	mu       sync.Mutex
	requests []domain.ChatRequest

	titleResponse string // raw "arguments" of the title finished event
	titleErr      error
	onTitle       func()

	script func(sessionID string) []step
	err    error
	// keepGoing keeps delivering after the sink returned an error.
	keepGoing bool
}

func (f *fakeService) Chat(ctx context.Context, req domain.ChatRequest, sink domain.ChatSink) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if strings.HasPrefix(req.Prompt, "Give a succinct title") {
		if f.onTitle != nil {
			f.onTitle()
		}
		if f.titleErr != nil {
			return f.titleErr
		}
		sid := req.SessionID
		_ = sink.OnProgress(startEv(sid, "t1", "respond"))
		_ = sink.OnProgress(finishedEv(sid, "t1", "respond", "", f.titleResponse))
		return nil
	}

	if f.script != nil {
		for _, st := range f.script(req.SessionID) {
			switch {
			case st.hook != nil:
				st.hook()
			case st.artifact != nil:
				sink.OnArtifact(*st.artifact)
			default:
				if err := sink.OnProgress(st.ev); err != nil && !f.keepGoing {
					return err
				}
			}
		}
	}
	return f.err
}

func (f *fakeService) mainRequests() []domain.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mainRequestsLocked()
}

func (f *fakeService) titleRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests) - len(f.mainRequestsLocked())
}

func (f *fakeService) mainRequestsLocked() []domain.ChatRequest {
	var out []domain.ChatRequest
	for _, r := range f.requests {
		if !strings.HasPrefix(r.Prompt, "Give a succinct title") {
			out = append(out, r)
		}
	}
	return out
}

// memStore is an in-memory domain.ChatStore.
type memStore struct {
	mu      sync.Mutex
	chats   map[string]domain.Manifest
	perms   map[string]domain.Permissions
	deleted []string
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{chats: map[string]domain.Manifest{}, perms: map[string]domain.Permissions{}}
}

func (s *memStore) EnsureCollection(context.Context) error { return nil }

func (s *memStore) Save(_ context.Context, m domain.Manifest, perms domain.Permissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.chats[m.ID] = m
	if perms != nil {
		s.perms[m.ID] = perms
	}
	return nil
}

func (s *memStore) List(context.Context) ([]domain.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Manifest, 0, len(s.chats))
	for _, m := range s.chats {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Read(_ context.Context, userID, chatID string) (*domain.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chats[chatID]
	if !ok || m.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (s *memStore) Delete(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.chats, chatID)
	s.deleted = append(s.deleted, chatID)
	return nil
}

func (s *memStore) get(id string) (domain.Manifest, domain.Permissions, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.chats[id]
	return m, s.perms[id], ok
}
