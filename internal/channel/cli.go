// Package channel holds the front ends that drive a chat orchestrator.
package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"ariachat/internal/bus"
	"ariachat/internal/chat"
	"ariachat/internal/conversation"
	"ariachat/internal/domain"
	"ariachat/internal/render"
)

const cliHelp = `Commands:
  /pause            stop the reply that is streaming
  /new              start a new chat
  /attach <file>    attach a file to the next message
  /open <n>         open summary website n
  /list             list saved chats
  /load <id> [user] load a saved chat (another user's id for shared chats)
  /share            save the chat readable by anyone and print its alias
  /status           show the chat status
  /quit             exit`

// statusHistory is how many recent status changes /status prints.
const statusHistory = 5

// CLI is an interactive terminal chat on top of a chat.Orchestrator.
type CLI struct {
	orch     *chat.Orchestrator
	library  *chat.Library
	renderer *render.Renderer
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	readFile func(string) ([]byte, error)
	started  time.Time

	outMu sync.Mutex

	shownMu sync.Mutex
	shown   map[string]domain.MessageStatus

	thinkMu   sync.Mutex
	thinking  bool
	thinkStop chan struct{}

	turns sync.WaitGroup
}

type CLIConfig struct {
	Orchestrator *chat.Orchestrator // required
	Library      *chat.Library      // optional; enables /list, /load, /share
	Renderer     *render.Renderer
	Logger       *slog.Logger
	In           io.Reader
	Out          io.Writer
	ReadFile     func(string) ([]byte, error)
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.New(cfg.Logger)
	}
	if cfg.ReadFile == nil {
		cfg.ReadFile = os.ReadFile
	}
	return &CLI{
		orch:     cfg.Orchestrator,
		library:  cfg.Library,
		renderer: cfg.Renderer,
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
		readFile: cfg.ReadFile,
		shown:    make(map[string]domain.MessageStatus),
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until /quit, end of input or context cancellation.
// Replies stream in the background so /pause can interrupt them; at end of
// input Start waits for the running turn.
func (c *CLI) Start(ctx context.Context) error {
	c.started = time.Now()
	eb := c.orch.Bus()
	subs := map[string]string{
		bus.EventConversationUpdated: eb.On(bus.EventConversationUpdated, c.onUpdate),
		bus.EventChatStatus:          eb.On(bus.EventChatStatus, c.onStatus),
		bus.EventArtifactOpen:        eb.On(bus.EventArtifactOpen, c.onArtifactOpen),
		bus.EventTitleSet:            eb.On(bus.EventTitleSet, c.onTitle),
	}
	defer func() {
		for typ, id := range subs {
			eb.Off(typ, id)
		}
	}()

	c.println("Aria Agents chat. Type your message and press Enter. Type /help for commands.")
	c.println(c.orch.Status())
	c.prompt()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			c.stopTurn()
			return nil
		case err := <-scanErr:
			c.turns.Wait()
			c.stopThinking()
			return err
		case line := <-lines:
			if quit := c.handleLine(ctx, strings.TrimSpace(line)); quit {
				c.logger.Info("user requested quit")
				c.stopTurn()
				return nil
			}
		}
	}
}

// stopTurn pauses a running turn and waits for it to return.
func (c *CLI) stopTurn() {
	if c.orch.State() != chat.StateIdle {
		c.orch.Pause()
	}
	c.turns.Wait()
	c.stopThinking()
}

// handleLine runs one line of input and reports whether the user asked to quit.
func (c *CLI) handleLine(ctx context.Context, line string) bool {
	if line == "" {
		c.prompt()
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.send(ctx, line)
		return false
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		c.println(cliHelp)
	case "/pause", "/stop":
		c.orch.Pause()
	case "/new":
		conv := c.orch.NewChat()
		c.resetShown()
		c.printf("Started new chat %s\n", conv.ID)
	case "/attach":
		c.attach(args)
	case "/open":
		c.open(args)
	case "/list":
		c.list(ctx)
	case "/load":
		c.load(ctx, args)
	case "/share":
		c.share(ctx)
	case "/status":
		c.status()
	default:
		c.printf("Unknown command %s. Type /help for commands.\n", cmd)
	}
	c.prompt()
	return false
}

func (c *CLI) send(ctx context.Context, text string) {
	if c.orch.State() != chat.StateIdle {
		c.println("A reply is still streaming. Type /pause to stop it.")
		c.prompt()
		return
	}
	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		err := c.orch.Send(ctx, text)
		switch {
		case err == nil, errors.Is(err, chat.ErrSessionTerminated):
		case errors.Is(err, chat.ErrTurnInProgress):
			c.println("A reply is still streaming. Type /pause to stop it.")
		default:
			c.logger.Debug("turn failed", "err", err)
		}
		c.prompt()
	}()
}

func (c *CLI) attach(args []string) {
	if len(args) == 0 {
		c.println("Usage: /attach <file>")
		return
	}
	for _, path := range args {
		data, err := c.readFile(path)
		if err != nil {
			c.printf("Cannot attach %s: %v\n", path, err)
			continue
		}
		c.orch.AddAttachments(domain.Attachment{Name: filepath.Base(path), Content: string(data)})
		c.printf("Attached %s (%d bytes)\n", filepath.Base(path), len(data))
	}
}

func (c *CLI) open(args []string) {
	if len(args) != 1 {
		c.println("Usage: /open <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		c.printf("Invalid summary website number %q\n", args[0])
		return
	}
	if !c.orch.OpenArtifact(n) {
		c.printf("No summary website %d in this chat\n", n)
	}
}

func (c *CLI) list(ctx context.Context) {
	if c.library == nil {
		c.println("Saved chats are not available.")
		return
	}
	chats, err := c.library.List(ctx)
	if err != nil {
		c.printf("Cannot list chats: %v\n", err)
		return
	}
	if len(chats) == 0 {
		c.println("No saved chats.")
		return
	}
	for _, m := range chats {
		c.printf("  %-20s %-40s %s\n", m.ID, m.Name, m.Timestamp)
	}
}

func (c *CLI) load(ctx context.Context, args []string) {
	if c.library == nil {
		c.println("Saved chats are not available.")
		return
	}
	if len(args) == 0 || len(args) > 2 {
		c.println("Usage: /load <id> [user]")
		return
	}
	owner := ""
	if len(args) == 2 {
		owner = args[1]
	}
	conv, err := c.library.Load(ctx, owner, args[0])
	if err != nil {
		c.printf("Cannot load chat: %v\n", err)
		return
	}
	c.orch.Load(conv)
	if owner != "" && owner != c.library.UserID() {
		c.orch.SetExternalSession(conv.ID)
	}
	c.resetShown()
	c.printTranscript(conv)
}

func (c *CLI) share(ctx context.Context) {
	if c.library == nil {
		c.println("Saved chats are not available.")
		return
	}
	snap := c.orch.Snapshot()
	if snap.IsEmpty() {
		c.println("Nothing to share yet.")
		return
	}
	alias, err := c.library.Share(ctx, snap)
	if err != nil {
		c.printf("Cannot share chat: %v\n", err)
		return
	}
	c.printf("Shared read-only as %s\n", alias)
}

// status prints the chat summary, its last message and the most recent
// status changes recorded on the bus.
func (c *CLI) status() {
	snap := c.orch.Snapshot()
	c.printf("%s\nchat %s %q, %d messages, %d summary websites, session %s\n",
		c.orch.Status(), snap.ID, snap.Title, snap.Len(), len(snap.Artifacts), c.orch.ActiveSessionID())
	if last, ok := snap.LastMessage(); ok {
		c.printf("last message: %s %s (%s)\n", last.Icon, c.renderer.Plain(last.Title), last.Status)
	}

	eb := c.orch.Bus()
	recent := eb.Replay(bus.EventChatStatus, c.started)
	if len(recent) > statusHistory {
		recent = recent[len(recent)-statusHistory:]
	}
	for _, ev := range recent {
		c.printf("  %s  %s\n", ev.Timestamp.Format("15:04:05"), ev.String("status"))
	}
	c.printf("%d events recorded this session\n", eb.HistoryLen())
}

func (c *CLI) printTranscript(conv *conversation.Conversation) {
	if conv.Title != "" {
		c.printf("== %s ==\n", conv.Title)
	}
	for _, id := range conv.History.Keys() {
		msg, _ := conv.History.Get(id)
		c.printMessage(msg)
		c.markShown(id, msg.Status)
	}
}

// --- bus handlers ---

func (c *CLI) onUpdate(ev bus.Event) {
	qid := ev.String("query_id")
	if qid == "" {
		return
	}
	snap := c.orch.Snapshot()
	if snap.ID != ev.String("conversation") {
		return
	}
	msg, ok := snap.History.Get(qid)
	if !ok || msg.Role == domain.RoleUser {
		return
	}

	prev, seen := c.markShown(qid, msg.Status)
	switch {
	case msg.Status == domain.MessageFinished && prev != domain.MessageFinished:
		c.stopThinking()
		c.printMessage(msg)
	case !seen:
		c.stopThinking()
		c.printf("%s %s\n", msg.Icon, c.renderer.Plain(msg.Title))
	}
}

func (c *CLI) onStatus(ev bus.Event) {
	if ev.String("status") == chat.StatusThinking {
		c.startThinking()
		return
	}
	c.stopThinking()
	c.println(ev.String("status"))
}

func (c *CLI) onArtifactOpen(ev bus.Event) {
	n, _ := ev.Int("index")
	c.printf("Summary website %d: %s\n", n, ev.String("url"))
}

func (c *CLI) onTitle(ev bus.Event) {
	c.printf("Chat title: %s\n", ev.String("title"))
}

// --- output ---

func (c *CLI) printMessage(msg domain.Message) {
	if msg.Role == domain.RoleUser {
		c.printf("You> %s\n", c.renderer.Plain(msg.Content))
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s %s ---\n", msg.Icon, c.renderer.Plain(msg.Title))
	if content := c.renderer.Plain(msg.Content); content != "" {
		b.WriteString(content)
		b.WriteByte('\n')
	}
	if msg.ArtifactIndex != nil {
		fmt.Fprintf(&b, "(type /open %d to view the summary website)\n", *msg.ArtifactIndex)
	}
	c.printf("%s", b.String())
}

// markShown records the last printed status of a message and returns the
// previous one.
func (c *CLI) markShown(id string, status domain.MessageStatus) (domain.MessageStatus, bool) {
	c.shownMu.Lock()
	defer c.shownMu.Unlock()
	prev, ok := c.shown[id]
	c.shown[id] = status
	return prev, ok
}

func (c *CLI) resetShown() {
	c.shownMu.Lock()
	c.shown = make(map[string]domain.MessageStatus)
	c.shownMu.Unlock()
}

func (c *CLI) prompt() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, "You> ")
}

func (c *CLI) println(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	stop := c.thinkStop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.printf("\r%s %s", frames[i%len(frames)], chat.StatusThinking)
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	c.printf("\r\033[K")
}
