package chat

import (
	"strings"

	"ariachat/internal/domain"
)

// WrapContent embeds a message and the names of its attachments in the
// textual envelope the chat service parses.
func WrapContent(content string, attachmentNames []string) string {
	var sb strings.Builder
	sb.WriteString("<MESSAGE_CONTENT>\n")
	sb.WriteString(content)
	sb.WriteString("\n</MESSAGE_CONTENT>\n\n<ATTACHMENT_NAMES>\n")
	sb.WriteString(strings.Join(attachmentNames, ",\n"))
	sb.WriteString("</ATTACHMENT_NAMES>")
	return sb.String()
}

// BuildHistory converts the conversation history into the request payload.
// Roles other than "user" are sent as "assistant".
func BuildHistory(h *domain.History) []domain.HistoryItem {
	msgs := h.Messages()
	items := make([]domain.HistoryItem, 0, len(msgs))
	for _, m := range msgs {
		role := domain.RoleAssistant
		if m.IsUser() {
			role = domain.RoleUser
		}
		items = append(items, domain.HistoryItem{
			Role:    role,
			Content: WrapContent(m.Content, m.Attachments),
		})
	}
	return items
}
