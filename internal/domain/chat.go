package domain

import "context"

// Extension selects a server-side chatbot extension for a request.
type Extension struct {
	ID string `json:"id"`
}

// HistoryItem is one prior turn in the wire shape the chat service expects.
type HistoryItem struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

// ChatRequest is a single invocation of the remote chat operation.
type ChatRequest struct {
	Prompt      string
	History     []HistoryItem
	SessionID   string
	UserID      string
	UserToken   string
	Extensions  []Extension
	Attachments []Attachment
}

// ChatSink receives the asynchronous output of a chat request.
// OnProgress is called once per event, in transport order, never concurrently
// for the same request. A non-nil error stops delivery for the request and is
// returned by ChatService.Chat.
type ChatSink interface {
	OnProgress(ev ProgressEvent) error
	OnArtifact(a Artifact)
}

// ChatService is the remote agent-chat RPC service.
type ChatService interface {
	Chat(ctx context.Context, req ChatRequest, sink ChatSink) error
}

// SinkFuncs adapts plain functions to ChatSink. Nil fields are ignored.
type SinkFuncs struct {
	Progress func(ProgressEvent) error
	Artifact func(Artifact)
}

func (s SinkFuncs) OnProgress(ev ProgressEvent) error {
	if s.Progress == nil {
		return nil
	}
	return s.Progress(ev)
}

func (s SinkFuncs) OnArtifact(a Artifact) {
	if s.Artifact != nil {
		s.Artifact(a)
	}
}
