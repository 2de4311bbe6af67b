package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent is returned when a progress event cannot be decoded into
// one of the known variants.
var ErrMalformedEvent = errors.New("malformed progress event")

// EventStatus discriminates progress event variants on the wire.
type EventStatus string

const (
	StatusStart      EventStatus = "start"
	StatusInProgress EventStatus = "in_progress"
	StatusFinished   EventStatus = "finished"
)

// RoleSetting is the optional presentation metadata the server attaches to a session.
type RoleSetting struct {
	Name string `json:"name,omitempty"`
	Icon string `json:"icon,omitempty"`
}

// SessionRef identifies the session an event was produced for.
type SessionRef struct {
	ID          string       `json:"id"`
	RoleSetting *RoleSetting `json:"role_setting,omitempty"`
}

// EventHeader holds the fields shared by every progress event variant.
type EventHeader struct {
	QueryID string
	Name    string // tool/function name
	Session SessionRef
}

// ProgressEvent is one streamed update about a tool invocation or answer segment.
// It is implemented only by StartEvent, InProgressEvent and FinishedEvent.
type ProgressEvent interface {
	Header() EventHeader
	Status() EventStatus
	progressEvent()
}

// StartEvent opens a new message for a query id.
type StartEvent struct {
	EventHeader
}

// InProgressEvent carries an argument fragment for an open message.
type InProgressEvent struct {
	EventHeader
	Arguments string
}

// FinishedEvent closes a message. Artifact is set by the orchestrator when the
// event belongs to an artifact-producing tool and the payload has arrived.
type FinishedEvent struct {
	EventHeader
	Arguments string
	Content   string
	Artifact  *Artifact
}

func (e StartEvent) Header() EventHeader      { return e.EventHeader }
func (e InProgressEvent) Header() EventHeader { return e.EventHeader }
func (e FinishedEvent) Header() EventHeader   { return e.EventHeader }

func (StartEvent) Status() EventStatus      { return StatusStart }
func (InProgressEvent) Status() EventStatus { return StatusInProgress }
func (FinishedEvent) Status() EventStatus   { return StatusFinished }

func (StartEvent) progressEvent()      {}
func (InProgressEvent) progressEvent() {}
func (FinishedEvent) progressEvent()   {}

// WireProgressEvent is the JSON shape the chat service sends.
type WireProgressEvent struct {
	Status    EventStatus `json:"status"`
	QueryID   string      `json:"query_id"`
	Name      string      `json:"name"`
	Arguments *string     `json:"arguments,omitempty"`
	Content   *string     `json:"content,omitempty"`
	Session   *SessionRef `json:"session"`
}

// DecodeProgressEvent parses a wire event and returns the matching variant.
func DecodeProgressEvent(data []byte) (ProgressEvent, error) {
	var w WireProgressEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return w.Event()
}

// Event validates the wire form and converts it to a typed variant.
func (w WireProgressEvent) Event() (ProgressEvent, error) {
	if w.QueryID == "" {
		return nil, fmt.Errorf("%w: missing query_id", ErrMalformedEvent)
	}
	if w.Session == nil || w.Session.ID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrMalformedEvent)
	}

	h := EventHeader{QueryID: w.QueryID, Name: w.Name, Session: *w.Session}
	switch w.Status {
	case StatusStart:
		return StartEvent{EventHeader: h}, nil
	case StatusInProgress:
		return InProgressEvent{EventHeader: h, Arguments: deref(w.Arguments)}, nil
	case StatusFinished:
		return FinishedEvent{EventHeader: h, Arguments: deref(w.Arguments), Content: deref(w.Content)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedEvent, w.Status)
	}
}

// EncodeProgressEvent converts a typed event back to its wire form.
func EncodeProgressEvent(ev ProgressEvent) WireProgressEvent {
	h := ev.Header()
	session := h.Session
	w := WireProgressEvent{Status: ev.Status(), QueryID: h.QueryID, Name: h.Name, Session: &session}
	switch e := ev.(type) {
	case InProgressEvent:
		w.Arguments = &e.Arguments
	case FinishedEvent:
		if e.Arguments != "" {
			w.Arguments = &e.Arguments
		}
		if e.Content != "" {
			w.Content = &e.Content
		}
	}
	return w
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
