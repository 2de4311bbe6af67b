package domain

import (
	"context"
	"errors"
)

// CollectionAlias is the artifact collection holding a user's saved chats.
const CollectionAlias = "aria-agents-chats"

// ErrNotFound is returned by ChatStore implementations for unknown chats.
var ErrNotFound = errors.New("chat not found")

// ManifestType is the artifact type of a persisted chat.
const ManifestType = "chat"

// WorkspaceFor returns the storage workspace owned by userID.
func WorkspaceFor(userID string) string { return "ws-user-" + userID }

// ChatAlias returns the fully qualified alias of a chat, usable to read a chat
// owned by another user through a shared link.
func ChatAlias(userID, chatID string) string {
	return WorkspaceFor(userID) + "/" + CollectionAlias + ":" + chatID
}

// Permissions maps a principal ("*" for everyone) to an access mode ("r", "rw").
type Permissions map[string]string

// ShareReadOnly grants read access to anyone with the link.
var ShareReadOnly = Permissions{"*": "r"}

// Manifest is the persisted representation of a conversation.
type Manifest struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Type          string       `json:"type"`
	Conversations History      `json:"conversations"`
	Artifacts     []Artifact   `json:"artifacts"`
	Attachments   []Attachment `json:"attachments"`
	Timestamp     string       `json:"timestamp"`
	UserID        string       `json:"userId"`
}

// ChatStore persists chat manifests (the artifact-storage collaborator).
type ChatStore interface {
	// EnsureCollection creates the parent collection if it does not exist.
	EnsureCollection(ctx context.Context) error

	// Save creates the chat or, if it already exists, replaces its manifest.
	Save(ctx context.Context, m Manifest, perms Permissions) error

	// List returns every chat manifest in the collection.
	List(ctx context.Context) ([]Manifest, error)

	// Read returns a single chat, possibly owned by another user (shared link).
	Read(ctx context.Context, userID, chatID string) (*Manifest, error)

	// Delete removes a chat and its files.
	Delete(ctx context.Context, chatID string) error
}
