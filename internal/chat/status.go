// Package chat implements the streaming session-update protocol: it sends a
// turn to the chat service, gates incoming progress events by session and
// folds them into the conversation.
package chat

import "errors"

var (
	// ErrSessionTerminated is returned by a turn's progress sink when an event
	// arrives after pause or for a session that is no longer active.
	ErrSessionTerminated = errors.New("session terminated")
	// ErrTurnInProgress is returned by Send while another turn is running.
	ErrTurnInProgress = errors.New("a chat turn is already in progress")
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")
)

// User-visible status lines.
const (
	StatusReady    = "Ready to chat! Type your message and press enter!"
	StatusThinking = "🤔 Thinking..."
	StatusStopped  = "Chat stopped."
	StatusLoaded   = "Chat loaded successfully!"
)

func errorStatus(err error) string {
	return "❌ Error: " + err.Error()
}

// TurnState is the turn-level state of the orchestrator.
type TurnState int

const (
	StateIdle TurnState = iota
	StateSending
	StateStreaming
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}
