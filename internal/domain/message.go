package domain

// MessageStatus tracks whether a message is still receiving stream updates.
type MessageStatus string

const (
	MessageInProgress MessageStatus = "in_progress"
	MessageFinished   MessageStatus = "finished"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultAgentRole = "Agent"
	DefaultAgentIcon = "🤖"
)

// Message is one entry of the conversation history.
type Message struct {
	ID              string        `json:"id"`
	Role            string        `json:"role"`                      // "user" or a server-supplied agent role
	Icon            string        `json:"icon,omitempty"`            // emoji or image reference, carried through unchanged
	ToolName        string        `json:"toolName,omitempty"`        // empty for user and final-answer messages
	AccumulatedArgs string        `json:"accumulatedArgs,omitempty"` // only meaningful while in progress
	Title           string        `json:"title,omitempty"`           // rendered header
	Content         string        `json:"content"`                   // rendered body
	Attachments     []string      `json:"attachments,omitempty"`
	Status          MessageStatus `json:"status,omitempty"`
	ArtifactIndex   *int          `json:"artifactIndex,omitempty"`
}

// Clone returns a copy that shares no mutable state with m.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]string(nil), m.Attachments...)
	}
	if m.ArtifactIndex != nil {
		idx := *m.ArtifactIndex
		out.ArtifactIndex = &idx
	}
	return out
}

// IsUser reports whether the message was typed by the local user.
func (m Message) IsUser() bool { return m.Role == RoleUser }

// Artifact is a generated side-output referenced by index from chat content.
type Artifact struct {
	Payload string `json:"payload"`
	URL     string `json:"url"`
}

// Attachment is a user-supplied file for the current outgoing turn.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}
