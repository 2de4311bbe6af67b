// Package conversation holds the in-memory chat aggregate: ordered message
// history, artifacts, pending attachments and the title.
package conversation

import (
	"strconv"
	"strings"

	"ariachat/internal/domain"

	"github.com/google/uuid"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Conversation is the aggregate mutated by the stream reducer and by the user
// input step. Values are treated as immutable by the reducer: every update
// works on a Clone.
type Conversation struct {
	ID          string
	Title       string // empty until a title has been negotiated
	History     domain.History
	Artifacts   []domain.Artifact
	Attachments []domain.Attachment
}

// New creates an empty conversation. An empty id generates a fresh one.
func New(id string) *Conversation {
	if id == "" {
		id = NewID()
	}
	return &Conversation{ID: id}
}

// NewID returns a session id of the form "session-xxxxxxxxx".
func NewID() string {
	u := uuid.New()
	var sb strings.Builder
	sb.WriteString("session-")
	for _, b := range u[:9] {
		sb.WriteByte(idAlphabet[int(b)%len(idAlphabet)])
	}
	return sb.String()
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	return &Conversation{
		ID:          c.ID,
		Title:       c.Title,
		History:     c.History.Clone(),
		Artifacts:   append([]domain.Artifact(nil), c.Artifacts...),
		Attachments: append([]domain.Attachment(nil), c.Attachments...),
	}
}

func (c *Conversation) Len() int      { return c.History.Len() }
func (c *Conversation) IsEmpty() bool { return c.History.Len() == 0 }

// LastMessage returns the most recent message, if any.
func (c *Conversation) LastMessage() (domain.Message, bool) {
	return c.History.Last()
}

// Artifact returns the artifact at index i.
func (c *Conversation) Artifact(i int) (domain.Artifact, bool) {
	if i < 0 || i >= len(c.Artifacts) {
		return domain.Artifact{}, false
	}
	return c.Artifacts[i], true
}

// AppendArtifact adds a to the end of the artifact list and returns its index.
// Indices are never reassigned.
func (c *Conversation) AppendArtifact(a domain.Artifact) int {
	c.Artifacts = append(c.Artifacts, a)
	return len(c.Artifacts) - 1
}

// AddAttachments queues files for the next outgoing turn.
func (c *Conversation) AddAttachments(atts ...domain.Attachment) {
	c.Attachments = append(c.Attachments, atts...)
}

// AttachmentNames returns the names of the pending attachments.
func (c *Conversation) AttachmentNames() []string {
	if len(c.Attachments) == 0 {
		return nil
	}
	names := make([]string, len(c.Attachments))
	for i, a := range c.Attachments {
		names[i] = a.Name
	}
	return names
}

// ClearAttachments drops the pending attachments after they were sent.
func (c *Conversation) ClearAttachments() {
	c.Attachments = nil
}

// AddUserMessage appends the user's own message. renderedContent is the
// display form of the input. The message is keyed by the current history
// length; a key already taken by a server query id gets a unique suffix.
func (c *Conversation) AddUserMessage(renderedContent string, attachmentNames []string) domain.Message {
	id := strconv.Itoa(c.History.Len())
	if c.History.Has(id) {
		id = "user-" + uuid.NewString()
	}
	msg := domain.Message{
		ID:          id,
		Role:        domain.RoleUser,
		Content:     renderedContent,
		Attachments: append([]string(nil), attachmentNames...),
		Status:      domain.MessageFinished,
	}
	c.History.Set(id, msg)
	return msg
}
