package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"ariachat/internal/domain"
)

const titlePrompt = `Give a succinct title to this chat session summarizing this prompt: "%s". Respond ONLY with words, maximum six words. DO NOT include "Chat Session Title".`

// TitlePrompt returns the instruction sent to obtain a title for text.
func TitlePrompt(text string) string { return fmt.Sprintf(titlePrompt, text) }

// TitleNegotiator asks the chat service for a short conversation title.
type TitleNegotiator struct {
	service domain.ChatService
	logger  *slog.Logger
}

// NewTitleNegotiator creates a negotiator that talks to service.
func NewTitleNegotiator(service domain.ChatService, logger *slog.Logger) *TitleNegotiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TitleNegotiator{service: service, logger: logger}
}

// Negotiate sends base with its prompt replaced by the title instruction and
// returns the trimmed "response" field of the last finished event that
// carries one. An empty title with a nil error means no usable answer came
// back; the caller retries on the next turn.
func (n *TitleNegotiator) Negotiate(ctx context.Context, base domain.ChatRequest, text string) (string, error) {
	req := base
	req.Prompt = TitlePrompt(text)
	req.Attachments = nil

	var title string
	sink := domain.SinkFuncs{
		Progress: func(ev domain.ProgressEvent) error {
			fin, ok := ev.(domain.FinishedEvent)
			if !ok {
				return nil
			}
			if t, ok := parseTitle(fin.Arguments); ok {
				title = t
			} else {
				n.logger.Debug("title response not usable", "query_id", fin.QueryID)
			}
			return nil
		},
	}

	if err := n.service.Chat(ctx, req, sink); err != nil {
		return "", fmt.Errorf("negotiate title: %w", err)
	}
	return title, nil
}

func parseTitle(arguments string) (string, bool) {
	var resp struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal([]byte(arguments), &resp); err != nil || resp.Response == nil {
		return "", false
	}
	t := strings.TrimSpace(*resp.Response)
	return t, t != ""
}
