package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ariachat/internal/chat"
	"ariachat/internal/domain"
	"ariachat/internal/memory"
	"ariachat/internal/render"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// scriptedService titles every chat "Zebrafish study" and answers each turn
// with a search step and a summary website.
type scriptedService struct {
	gate chan struct{} // when set, the main reply waits for it
}

func (s *scriptedService) Chat(ctx context.Context, req domain.ChatRequest, sink domain.ChatSink) error {
	hdr := func(qid, name string) domain.EventHeader {
		return domain.EventHeader{QueryID: qid, Name: name, Session: domain.SessionRef{ID: req.SessionID}}
	}
	if strings.HasPrefix(req.Prompt, "Give a succinct title") {
		_ = sink.OnProgress(domain.StartEvent{EventHeader: hdr("t1", "respond")})
		return sink.OnProgress(domain.FinishedEvent{EventHeader: hdr("t1", "respond"), Arguments: `{"response": "Zebrafish study"}`})
	}

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	steps := []func() error{
		func() error { return sink.OnProgress(domain.StartEvent{EventHeader: hdr("q1", "Search")}) },
		func() error {
			return sink.OnProgress(domain.FinishedEvent{EventHeader: hdr("q1", "Search"), Content: "3 results found"})
		},
		func() error { return sink.OnProgress(domain.StartEvent{EventHeader: hdr("q2", "SummaryWebsite")}) },
		func() error {
			sink.OnArtifact(domain.Artifact{Payload: "<html/>", URL: "https://files/s.html"})
			return nil
		},
		func() error { return sink.OnProgress(domain.FinishedEvent{EventHeader: hdr("q2", "SummaryWebsite")}) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

type harness struct {
	t     *testing.T
	cli   *CLI
	orch  *chat.Orchestrator
	out   *safeBuffer
	input *io.PipeWriter
	done  chan error
}

func newHarness(t *testing.T, svc domain.ChatService, lib *chat.Library) *harness {
	t.Helper()
	pr, pw := io.Pipe()
	out := &safeBuffer{}
	logger := testLogger()
	orch := chat.NewOrchestrator(chat.Options{Service: svc, Library: lib, Logger: logger, UserID: "u1"})
	cli := NewCLI(CLIConfig{
		Orchestrator: orch,
		Library:      lib,
		Renderer:     render.New(logger),
		Logger:       logger,
		In:           pr,
		Out:          out,
		ReadFile: func(name string) ([]byte, error) {
			if name == "notes.txt" {
				return []byte("hello"), nil
			}
			return nil, errors.New("no such file")
		},
	})

	h := &harness{t: t, cli: cli, orch: orch, out: out, input: pw, done: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.done <- cli.Start(ctx) }()
	return h
}

// eventually polls cond until it holds or five seconds pass.
func eventually(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func (h *harness) send(line string) {
	h.t.Helper()
	if _, err := io.WriteString(h.input, line+"\n"); err != nil {
		h.t.Fatalf("write %q: %v", line, err)
	}
}

func (h *harness) waitFor(substr string) {
	h.t.Helper()
	if !eventually(h.t, func() bool { return strings.Contains(h.out.String(), substr) }) {
		h.t.Fatalf("output never contained %q:\n%s", substr, h.out.String())
	}
}

// waitIdle waits until a turn has completed and the prompt is usable again.
func (h *harness) waitIdle(turns int) {
	h.t.Helper()
	ok := eventually(h.t, func() bool {
		return strings.Count(h.out.String(), chat.StatusReady) > turns && h.orch.State() == chat.StateIdle
	})
	if !ok {
		h.t.Fatalf("turn %d never completed:\n%s", turns, h.out.String())
	}
}

func (h *harness) waitState(state chat.TurnState) {
	h.t.Helper()
	if !eventually(h.t, func() bool { return h.orch.State() == state }) {
		h.t.Fatalf("state never became %s, is %s", state, h.orch.State())
	}
}

func (h *harness) quit() {
	h.t.Helper()
	h.send("/quit")
	select {
	case err := <-h.done:
		if err != nil {
			h.t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		h.t.Fatal("CLI did not exit")
	}
}

func assertContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Errorf("output missing %q:\n%s", want, out)
	}
}

func TestCLI_StreamsReplyAndOpensArtifact(t *testing.T) {
	h := newHarness(t, &scriptedService{}, nil)

	h.send("Find zebrafish papers")
	h.waitIdle(1)

	out := h.out.String()
	assertContains(t, out, "Chat title: Zebrafish study")
	assertContains(t, out, "3 results found")
	assertContains(t, out, "Calling tool")
	assertContains(t, out, "(type /open 0 to view the summary website)")

	h.send("/open 0")
	h.waitFor("Summary website 0: https://files/s.html")

	h.send("/open 7")
	h.waitFor("No summary website 7 in this chat")
	h.quit()
}

func TestCLI_SavedChats(t *testing.T) {
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "chats.db"), "u1", testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	lib := chat.NewLibrary(store, "u1", testLogger())

	h := newHarness(t, &scriptedService{}, lib)
	h.send("Find zebrafish papers")
	h.waitIdle(1)
	id := h.orch.Snapshot().ID

	h.send("/list")
	h.waitFor(id)

	h.send("/new")
	h.waitFor("Started new chat")
	if h.orch.Snapshot().ID == id {
		t.Errorf("/new kept chat id %s", id)
	}

	h.send("/load " + id)
	h.waitFor("== Zebrafish study ==")
	h.waitFor(chat.StatusLoaded)
	if got := h.orch.Snapshot().ID; got != id {
		t.Errorf("loaded chat %s, want %s", got, id)
	}

	h.send("/share")
	h.waitFor("Shared read-only as ws-user-u1/aria-agents-chats:" + id)
	h.quit()
}

func TestCLI_RejectsSecondMessageWhileStreaming(t *testing.T) {
	svc := &scriptedService{gate: make(chan struct{})}
	h := newHarness(t, svc, nil)

	h.send("first")
	h.waitState(chat.StateStreaming)

	h.send("second")
	h.waitFor("A reply is still streaming")

	h.send("/pause")
	h.waitFor(chat.StatusStopped)
	close(svc.gate)

	h.waitState(chat.StateIdle)
	if strings.Contains(h.out.String(), "3 results found") {
		t.Errorf("events after /pause were printed:\n%s", h.out.String())
	}
	if got := h.orch.Status(); got != chat.StatusStopped {
		t.Errorf("status = %q, want %q", got, chat.StatusStopped)
	}
	h.quit()
}

func TestCLI_CommandsWithoutTurns(t *testing.T) {
	h := newHarness(t, &scriptedService{}, nil)

	h.send("/attach notes.txt missing.txt")
	h.waitFor("Attached notes.txt (5 bytes)")
	h.waitFor("Cannot attach missing.txt")
	if n := len(h.orch.Snapshot().Attachments); n != 1 {
		t.Errorf("expected 1 pending attachment, got %d", n)
	}

	h.send("/bogus")
	h.waitFor("Unknown command /bogus")

	h.send("/list")
	h.waitFor("Saved chats are not available.")

	h.send("/help")
	h.waitFor("/pause")

	h.send("/open x")
	h.waitFor(`Invalid summary website number "x"`)
	h.quit()
}

func TestCLI_StatusShowsLastMessageAndRecentChanges(t *testing.T) {
	h := newHarness(t, &scriptedService{}, nil)

	h.send("Find zebrafish papers")
	h.waitIdle(1)

	h.send("/status")
	h.waitFor("events recorded this session")

	out := h.out.String()
	assertContains(t, out, `"Zebrafish study", 3 messages, 1 summary websites`)
	assertContains(t, out, "last message: 🤖 Tool ")
	assertContains(t, out, "SummaryWebsite (finished)")
	assertContains(t, out, "  "+chat.StatusThinking+"\n")
	assertContains(t, out, "  "+chat.StatusReady+"\n")
	h.quit()
}

func TestCLI_EndOfInputWaitsForTurn(t *testing.T) {
	h := newHarness(t, &scriptedService{}, nil)
	h.send("hello")
	if err := h.input.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("CLI did not exit at end of input")
	}
	assertContains(t, h.out.String(), "3 results found")
	if got := h.orch.State(); got != chat.StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}
