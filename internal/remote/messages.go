package remote

import (
	"encoding/json"
	"fmt"

	"ariachat/internal/domain"
)

// Envelope types.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Methods used by the chat service.
const (
	MethodChat     = "chat"
	MethodPing     = "ping"
	MethodProgress = "progress"
	MethodArtifact = "artifact"
)

// Envelope is one WebSocket frame. Requests carry Method and Params;
// responses carry Result or Error; events carry Method and Params and share
// the ID of the request they belong to.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Service string          `json:"service,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error reported by the remote service.
type RPCError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}
	return "remote error: " + e.Message
}

// ChatParams are the parameters of a chat request.
type ChatParams struct {
	Text        string               `json:"text"`
	ChatHistory []domain.HistoryItem `json:"chat_history"`
	SessionID   string               `json:"session_id"`
	UserID      string               `json:"user_id"`
	UserToken   string               `json:"user_token,omitempty"`
	Extensions  []domain.Extension   `json:"extensions"`
	Attachments []domain.Attachment  `json:"attachments,omitempty"`
}

func chatParams(req domain.ChatRequest) ChatParams {
	p := ChatParams{
		Text:        req.Prompt,
		ChatHistory: req.History,
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		UserToken:   req.UserToken,
		Extensions:  req.Extensions,
		Attachments: req.Attachments,
	}
	if p.ChatHistory == nil {
		p.ChatHistory = []domain.HistoryItem{}
	}
	if p.Extensions == nil {
		p.Extensions = []domain.Extension{}
	}
	return p
}

// ArtifactParams is the payload of an artifact event.
type ArtifactParams struct {
	Artifact string `json:"artifact"`
	URL      string `json:"url"`
}
