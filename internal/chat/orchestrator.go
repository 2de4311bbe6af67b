package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ariachat/internal/bus"
	"ariachat/internal/conversation"
	"ariachat/internal/domain"
	"ariachat/internal/metrics"
	"ariachat/internal/render"
)

// DefaultExtensions selects the Aria chatbot extension.
var DefaultExtensions = []domain.Extension{{ID: "aria"}}

// Options configures an Orchestrator.
type Options struct {
	Service  domain.ChatService // required
	Renderer *render.Renderer
	Library  *Library      // optional; enables autosave
	Bus      *bus.EventBus // optional
	Logger   *slog.Logger

	UserID       string
	UserToken    string
	Extensions   []domain.Extension
	ArtifactTool string
}

// Orchestrator runs chat turns against the chat service and owns the active
// conversation. Send blocks for the duration of a turn; Pause, OpenArtifact
// and the accessors may be called concurrently from other goroutines.
type Orchestrator struct {
	service  domain.ChatService
	renderer *render.Renderer
	reducer  *Reducer
	titles   *TitleNegotiator
	guard    *Guard
	library  *Library
	bus      *bus.EventBus
	logger   *slog.Logger

	userID     string
	userToken  string
	extensions []domain.Extension

	mu     sync.Mutex
	conv   *conversation.Conversation
	state  TurnState
	status string
}

// NewOrchestrator creates an orchestrator holding a fresh conversation.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Renderer == nil {
		opts.Renderer = render.New(opts.Logger)
	}
	if opts.Bus == nil {
		opts.Bus = bus.NewEventBus(opts.Logger)
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}

	conv := conversation.New("")
	return &Orchestrator{
		service:    opts.Service,
		renderer:   opts.Renderer,
		reducer:    NewReducer(opts.Renderer, opts.ArtifactTool),
		titles:     NewTitleNegotiator(opts.Service, opts.Logger),
		guard:      NewGuard(conv.ID),
		library:    opts.Library,
		bus:        opts.Bus,
		logger:     opts.Logger,
		userID:     opts.UserID,
		userToken:  opts.UserToken,
		extensions: append([]domain.Extension(nil), opts.Extensions...),
		conv:       conv,
		status:     StatusReady,
	}
}

// Bus returns the event bus the orchestrator publishes on.
func (o *Orchestrator) Bus() *bus.EventBus { return o.bus }

// Snapshot returns a copy of the active conversation.
func (o *Orchestrator) Snapshot() *conversation.Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conv.Clone()
}

// Status returns the current user-visible status line.
func (o *Orchestrator) Status() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// State returns the turn state.
func (o *Orchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Paused reports whether the current turn was stopped by the user.
func (o *Orchestrator) Paused() bool { return o.guard.Paused() }

// ActiveSessionID returns the session id incoming events must carry.
func (o *Orchestrator) ActiveSessionID() string { return o.guard.ActiveID() }

// AddAttachments queues files for the next turn.
func (o *Orchestrator) AddAttachments(atts ...domain.Attachment) {
	o.mu.Lock()
	next := o.conv.Clone()
	next.AddAttachments(atts...)
	o.conv = next
	o.mu.Unlock()
}

// Send runs one turn: it appends the user message, negotiates a title when
// the conversation has none, then streams the main request into the
// conversation. It returns when the service call returns. A turn stopped by
// Pause or by a session change returns an error matching ErrSessionTerminated.
func (o *Orchestrator) Send(ctx context.Context, text string, attachments ...domain.Attachment) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrTurnInProgress
	}
	o.state = StateSending
	o.guard.Resume()

	next := o.conv.Clone()
	next.AddAttachments(attachments...)
	pending := append([]domain.Attachment(nil), next.Attachments...)
	history := BuildHistory(&next.History)
	userMsg := next.AddUserMessage(o.renderer.Markdown(text), next.AttachmentNames())
	next.ClearAttachments()
	o.conv = next
	needTitle := next.Title == ""
	o.status = StatusThinking
	o.mu.Unlock()

	o.publishStatus(StatusThinking, StateSending)
	o.publishUpdate(next.ID, userMsg.ID, domain.MessageFinished)

	metrics.TurnsTotal.Inc()
	metrics.ActiveTurns.Inc()
	defer metrics.ActiveTurns.Dec()
	start := time.Now()

	req := domain.ChatRequest{
		Prompt:      text,
		History:     history,
		SessionID:   next.ID,
		UserID:      o.userID,
		UserToken:   o.userToken,
		Extensions:  o.extensions,
		Attachments: pending,
	}
	o.logger.Info("sending chat turn", "session", req.SessionID, "history", len(history), "attachments", len(pending))

	if needTitle {
		o.negotiateTitle(ctx, req, text)
	}

	o.setState(StateStreaming)
	sink := newTurnSink(o, req.SessionID)
	var err error
	if o.guard.Accepts(req.SessionID) {
		err = o.service.Chat(ctx, req, sink)
		if err == nil && sink.Stopped() {
			err = ErrSessionTerminated
		}
		sink.flush()
	} else {
		err = ErrSessionTerminated
	}
	metrics.TurnLatency.Observe(time.Since(start).Seconds())

	return o.finishTurn(ctx, req.SessionID, err)
}

func (o *Orchestrator) finishTurn(ctx context.Context, sessionID string, err error) error {
	switch {
	case err == nil:
		o.logger.Info("chat turn finished", "session", sessionID)
		o.endTurn(StatusReady)
	case errors.Is(err, ErrSessionTerminated):
		metrics.TurnsStopped.Inc()
		o.logger.Info("chat turn stopped", "session", sessionID, "paused", o.guard.Paused())
		status := StatusReady
		if o.guard.Paused() {
			status = StatusStopped
		}
		o.endTurn(status)
	default:
		metrics.TurnErrors.Inc()
		o.logger.Error("chat turn failed", "session", sessionID, "err", err)
		o.endTurn(errorStatus(err))
	}

	o.autosave(ctx, sessionID)
	return err
}

func (o *Orchestrator) endTurn(status string) {
	o.mu.Lock()
	o.state = StateIdle
	o.status = status
	o.mu.Unlock()
	o.publishStatus(status, StateIdle)
}

// Pause stops the current turn: every event still arriving for it is dropped.
// The network call itself keeps running until the service returns.
func (o *Orchestrator) Pause() {
	o.guard.Pause()
	o.mu.Lock()
	o.status = StatusStopped
	state := o.state
	o.mu.Unlock()
	o.publishStatus(StatusStopped, state)
	o.logger.Info("chat paused", "session", o.guard.ActiveID())
}

// NewChat replaces the active conversation with an empty one.
func (o *Orchestrator) NewChat() *conversation.Conversation {
	conv := conversation.New("")
	o.replace(conv, StatusReady)
	return conv.Clone()
}

// Load replaces the active conversation with conv. Events still arriving for
// the previous conversation are rejected from now on.
func (o *Orchestrator) Load(conv *conversation.Conversation) {
	o.replace(conv.Clone(), StatusLoaded)
}

func (o *Orchestrator) replace(conv *conversation.Conversation, status string) {
	o.mu.Lock()
	o.conv = conv
	o.guard.Bind(conv.ID)
	o.status = status
	state := o.state
	o.mu.Unlock()
	o.publishStatus(status, state)
	o.publishUpdate(conv.ID, "", "")
}

// SetExternalSession makes id the authoritative session id, as when the
// conversation was opened from a shared link. An empty id clears it.
func (o *Orchestrator) SetExternalSession(id string) {
	o.guard.SetExternal(id)
}

// OpenArtifact asks the front end to show artifact index. Indices past the end
// of the artifact list are ignored.
func (o *Orchestrator) OpenArtifact(index int) bool {
	o.mu.Lock()
	a, ok := o.conv.Artifact(index)
	convID := o.conv.ID
	o.mu.Unlock()
	if !ok {
		return false
	}
	o.bus.Emit(bus.Event{
		Type:    bus.EventArtifactOpen,
		Source:  "chat",
		Payload: map[string]any{"index": index, "url": a.URL, "conversation": convID},
	})
	return true
}

// apply gates ev through the guard and folds it into the conversation.
// Guard check and update happen under one lock so a Load cannot interleave.
func (o *Orchestrator) apply(ev domain.ProgressEvent) error {
	h := ev.Header()

	o.mu.Lock()
	if !o.guard.Valid(ev) {
		convID := o.conv.ID
		o.mu.Unlock()
		metrics.EventsDropped.Inc()
		o.logger.Debug("progress event rejected", "session", h.Session.ID, "active", o.guard.ActiveID(), "query_id", h.QueryID)
		o.bus.Emit(bus.Event{
			Type:    bus.EventEventDropped,
			Source:  "chat",
			Payload: map[string]any{"conversation": convID, "session": h.Session.ID, "query_id": h.QueryID},
		})
		return ErrSessionTerminated
	}
	next, changed := o.reducer.Apply(o.conv, ev)
	if changed {
		o.conv = next
	}
	convID := o.conv.ID
	o.mu.Unlock()

	if !changed {
		o.logger.Debug("progress event ignored", "query_id", h.QueryID, "status", ev.Status())
		return nil
	}
	metrics.EventsApplied.Inc()
	o.publishUpdate(convID, h.QueryID, ev.Status())
	return nil
}

// appendArtifact stores an artifact no finished event claimed.
func (o *Orchestrator) appendArtifact(sessionID string, a domain.Artifact) {
	o.mu.Lock()
	if !o.guard.Accepts(sessionID) {
		o.mu.Unlock()
		return
	}
	next := o.conv.Clone()
	idx := next.AppendArtifact(a)
	o.conv = next
	o.mu.Unlock()
	o.logger.Info("unclaimed artifact stored", "session", sessionID, "index", idx)
	o.publishUpdate(sessionID, "", "")
}

// openTool returns the tool name that finishing queryID would use and
// whether the message is still open.
func (o *Orchestrator) openTool(queryID, eventName string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg, ok := open(o.conv, queryID)
	if !ok {
		return "", false
	}
	return toolName(msg, eventName), true
}

func (o *Orchestrator) negotiateTitle(ctx context.Context, req domain.ChatRequest, text string) {
	start := time.Now()
	title, err := o.titles.Negotiate(ctx, req, text)
	if err != nil {
		o.logger.Warn("title negotiation failed", "session", req.SessionID, "err", err)
		return
	}
	if title == "" {
		o.logger.Debug("no title negotiated", "session", req.SessionID)
		return
	}

	o.mu.Lock()
	if o.conv.ID != req.SessionID || o.conv.Title != "" {
		o.mu.Unlock()
		return
	}
	next := o.conv.Clone()
	next.Title = title
	o.conv = next
	o.mu.Unlock()

	metrics.TitlesNegotiated.Inc()
	metrics.TitleLatency.Observe(time.Since(start).Seconds())
	o.logger.Info("chat titled", "session", req.SessionID, "title", title)
	o.bus.Emit(bus.Event{
		Type:    bus.EventTitleSet,
		Source:  "chat",
		Payload: map[string]any{"conversation": req.SessionID, "title": title},
	})
	o.save(ctx, next)
}

// autosave persists the conversation after a turn once it has a title.
func (o *Orchestrator) autosave(ctx context.Context, sessionID string) {
	o.mu.Lock()
	conv := o.conv
	o.mu.Unlock()
	if conv.ID != sessionID || conv.Title == "" {
		return
	}
	o.save(ctx, conv.Clone())
}

func (o *Orchestrator) save(ctx context.Context, conv *conversation.Conversation) {
	if o.library == nil {
		return
	}
	if err := o.library.Save(context.WithoutCancel(ctx), conv, nil); err != nil {
		o.logger.Warn("failed to save chat", "session", conv.ID, "err", err)
		return
	}
	o.bus.Emit(bus.Event{
		Type:    bus.EventChatSaved,
		Source:  "chat",
		Payload: map[string]any{"conversation": conv.ID},
	})
}

func (o *Orchestrator) setState(s TurnState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// publishStatus must be called without o.mu held: handlers may read the
// orchestrator.
func (o *Orchestrator) publishStatus(status string, state TurnState) {
	o.bus.Emit(bus.Event{
		Type:    bus.EventChatStatus,
		Source:  "chat",
		Payload: map[string]any{"status": status, "state": state.String()},
	})
}

func (o *Orchestrator) publishUpdate(convID, queryID string, status any) {
	o.bus.Emit(bus.Event{
		Type:    bus.EventConversationUpdated,
		Source:  "chat",
		Payload: map[string]any{"conversation": convID, "query_id": queryID, "status": status},
	})
}
