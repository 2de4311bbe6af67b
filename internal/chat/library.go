package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"ariachat/internal/conversation"
	"ariachat/internal/domain"
	"ariachat/internal/metrics"
)

// Library manages the saved chats of one user on top of a ChatStore.
type Library struct {
	store  domain.ChatStore
	userID string
	logger *slog.Logger
	now    func() time.Time
}

// NewLibrary creates a Library for userID.
func NewLibrary(store domain.ChatStore, userID string, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{store: store, userID: userID, logger: logger, now: time.Now}
}

// UserID returns the owner of the library.
func (l *Library) UserID() string { return l.userID }

// Save writes the conversation, creating it or replacing the stored manifest.
// A nil perms keeps the store's default (owner only).
func (l *Library) Save(ctx context.Context, conv *conversation.Conversation, perms domain.Permissions) error {
	m := conv.ToManifest(l.userID, l.now())
	if err := l.store.Save(ctx, m, perms); err != nil {
		return fmt.Errorf("save chat %s: %w", conv.ID, err)
	}
	metrics.ChatsSaved.Inc()
	l.logger.Debug("chat saved", "chat", conv.ID, "messages", conv.Len())
	return nil
}

// Share saves the conversation readable by anyone and returns its alias.
func (l *Library) Share(ctx context.Context, conv *conversation.Conversation) (string, error) {
	if err := l.Save(ctx, conv, domain.ShareReadOnly); err != nil {
		return "", err
	}
	return domain.ChatAlias(l.userID, conv.ID), nil
}

// List returns the titled chats, newest first. Untitled chats are leftovers of
// abandoned sessions and are deleted; a failed delete is only logged.
func (l *Library) List(ctx context.Context) ([]domain.Manifest, error) {
	all, err := l.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	titled := make([]domain.Manifest, 0, len(all))
	for _, m := range all {
		if m.Name != "" {
			titled = append(titled, m)
			continue
		}
		if err := l.store.Delete(ctx, m.ID); err != nil {
			l.logger.Warn("failed to delete untitled chat", "chat", m.ID, "err", err)
		}
	}

	sort.SliceStable(titled, func(i, j int) bool {
		return parseTimestamp(titled[i].Timestamp).After(parseTimestamp(titled[j].Timestamp))
	})
	return titled, nil
}

// Load reads a chat. An empty userID reads from the library owner; another
// user's id reads a chat shared through a link.
func (l *Library) Load(ctx context.Context, userID, chatID string) (*conversation.Conversation, error) {
	if userID == "" {
		userID = l.userID
	}
	m, err := l.store.Read(ctx, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat %s: %w", chatID, err)
	}
	return conversation.FromManifest(*m), nil
}

// Delete removes a chat.
func (l *Library) Delete(ctx context.Context, chatID string) error {
	if err := l.store.Delete(ctx, chatID); err != nil {
		return fmt.Errorf("delete chat %s: %w", chatID, err)
	}
	return nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
