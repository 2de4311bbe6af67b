package chat

import (
	"fmt"
	"html"
	"strings"

	"ariachat/internal/conversation"
	"ariachat/internal/domain"
	"ariachat/internal/render"
)

// DefaultArtifactTool is the tool whose result is a generated website
// delivered through the artifact callback.
const DefaultArtifactTool = "SummaryWebsite"

const (
	artifactPlaceholder = "Generating summary website..."
	artifactMissing     = "_The summary website was not delivered._"
	artifactButton      = `<button class="button" data-artifact-index="%d">View Summary Website</button>`
)

func startHeader(tool string) string {
	return fmt.Sprintf("### ⏳ Calling tool 🛠️ `%s`...", tool)
}

func finishedHeader(tool string) string {
	return fmt.Sprintf("### Tool 🛠️ `%s`", tool)
}

// ArtifactButton returns the affordance that opens artifact index.
func ArtifactButton(index int) string { return fmt.Sprintf(artifactButton, index) }

// Reducer folds progress events into a conversation. Apply never mutates its
// input: a changed conversation is returned as a new value.
type Reducer struct {
	renderer     *render.Renderer
	artifactTool string
}

// NewReducer creates a reducer. An empty artifactTool selects DefaultArtifactTool.
func NewReducer(renderer *render.Renderer, artifactTool string) *Reducer {
	if renderer == nil {
		renderer = render.New(nil)
	}
	if artifactTool == "" {
		artifactTool = DefaultArtifactTool
	}
	return &Reducer{renderer: renderer, artifactTool: artifactTool}
}

// IsArtifactTool reports whether name produces an out-of-band artifact.
func (r *Reducer) IsArtifactTool(name string) bool { return name == r.artifactTool }

// Apply returns the conversation after ev and whether anything changed.
// Events for an unknown or already finished query id leave conv untouched.
func (r *Reducer) Apply(conv *conversation.Conversation, ev domain.ProgressEvent) (*conversation.Conversation, bool) {
	switch e := ev.(type) {
	case domain.StartEvent:
		return r.start(conv, e), true
	case domain.InProgressEvent:
		return r.progress(conv, e)
	case domain.FinishedEvent:
		return r.finish(conv, e)
	default:
		return conv, false
	}
}

func (r *Reducer) start(conv *conversation.Conversation, e domain.StartEvent) *conversation.Conversation {
	role, icon := domain.DefaultAgentRole, domain.DefaultAgentIcon
	if rs := e.Session.RoleSetting; rs != nil {
		if rs.Name != "" {
			role = rs.Name
		}
		if rs.Icon != "" {
			icon = rs.Icon
		}
	}

	next := conv.Clone()
	next.History.Set(e.QueryID, domain.Message{
		ID:       e.QueryID,
		Role:     role,
		Icon:     icon,
		ToolName: e.Name,
		Title:    r.renderer.Markdown(startHeader(e.Name)),
		Status:   domain.MessageInProgress,
	})
	return next
}

func (r *Reducer) progress(conv *conversation.Conversation, e domain.InProgressEvent) (*conversation.Conversation, bool) {
	msg, ok := open(conv, e.QueryID)
	if !ok {
		return conv, false
	}
	tool := toolName(msg, e.Name)

	msg.AccumulatedArgs += strings.ReplaceAll(e.Arguments, "\n", "")
	msg.Title = r.renderer.Markdown(startHeader(tool))
	if r.IsArtifactTool(tool) {
		msg.Content = "<div>" + artifactPlaceholder + "</div>"
	} else {
		msg.Content = "<div>" + html.EscapeString(msg.AccumulatedArgs) + "</div>"
	}

	next := conv.Clone()
	next.History.Set(e.QueryID, msg)
	return next, true
}

func (r *Reducer) finish(conv *conversation.Conversation, e domain.FinishedEvent) (*conversation.Conversation, bool) {
	msg, ok := open(conv, e.QueryID)
	if !ok {
		return conv, false
	}
	tool := toolName(msg, e.Name)
	next := conv.Clone()

	msg.Title = r.renderer.Markdown(finishedHeader(tool))
	msg.AccumulatedArgs = ""
	msg.Status = domain.MessageFinished

	switch {
	case r.IsArtifactTool(tool) && e.Artifact != nil:
		// Index from the current count, at append time.
		idx := next.AppendArtifact(*e.Artifact)
		msg.ArtifactIndex = &idx
		msg.Content = ArtifactButton(idx)
	case r.IsArtifactTool(tool):
		msg.Content = r.renderer.Markdown(artifactMissing)
	default:
		text := e.Content
		if text == "" {
			text = render.ArgumentsToMarkdown(e.Arguments)
		}
		msg.Content = r.renderer.Markdown(text)
	}

	next.History.Set(e.QueryID, msg)
	return next, true
}

// open returns a copy of the message for queryID if it is still receiving updates.
func open(conv *conversation.Conversation, queryID string) (domain.Message, bool) {
	msg, ok := conv.History.Get(queryID)
	if !ok || msg.Status == domain.MessageFinished {
		return domain.Message{}, false
	}
	return msg.Clone(), true
}

func toolName(msg domain.Message, eventName string) string {
	if eventName != "" {
		return eventName
	}
	return msg.ToolName
}
