package conversation

import (
	"time"

	"ariachat/internal/domain"
)

// ToManifest converts the conversation to its persisted form.
func (c *Conversation) ToManifest(userID string, now time.Time) domain.Manifest {
	return domain.Manifest{
		ID:            c.ID,
		Name:          c.Title,
		Description:   "The Aria Agents chat history of " + c.ID,
		Type:          domain.ManifestType,
		Conversations: c.History.Clone(),
		Artifacts:     nonNilArtifacts(c.Artifacts),
		Attachments:   nonNilAttachments(c.Attachments),
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
		UserID:        userID,
	}
}

// FromManifest rebuilds a conversation from its persisted form.
func FromManifest(m domain.Manifest) *Conversation {
	c := New(m.ID)
	c.Title = m.Name
	c.History = m.Conversations.Clone()
	if len(m.Artifacts) > 0 {
		c.Artifacts = append([]domain.Artifact(nil), m.Artifacts...)
	}
	if len(m.Attachments) > 0 {
		c.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	}
	return c
}

func nonNilArtifacts(a []domain.Artifact) []domain.Artifact {
	if a == nil {
		return []domain.Artifact{}
	}
	return append([]domain.Artifact(nil), a...)
}

func nonNilAttachments(a []domain.Attachment) []domain.Attachment {
	if a == nil {
		return []domain.Attachment{}
	}
	return append([]domain.Attachment(nil), a...)
}
