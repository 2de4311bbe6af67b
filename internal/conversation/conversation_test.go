package conversation

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ariachat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populated() *Conversation {
	c := New("session-abc123xyz")
	c.Title = "Zebrafish heart study"
	c.AddUserMessage("<p>hello</p>", []string{"data.csv"})
	c.History.Set("q1", domain.Message{
		ID: "q1", Role: "Aria", Icon: "🤖", ToolName: "Search",
		Title: "<h3>Tool</h3>", Content: "<p>3 results found</p>", Status: domain.MessageFinished,
	})
	idx := c.AppendArtifact(domain.Artifact{Payload: "<html></html>", URL: "https://example.com/a.html"})
	c.History.Set("q2", domain.Message{
		ID: "q2", Role: "Aria", ToolName: "SummaryWebsite", Status: domain.MessageFinished, ArtifactIndex: &idx,
	})
	c.AddAttachments(domain.Attachment{Name: "data.csv", Content: "a,b\n1,2"})
	return c
}

func TestNewID_Format(t *testing.T) {
	id := NewID()
	require.True(t, strings.HasPrefix(id, "session-"))
	assert.Len(t, id, len("session-")+9)
	assert.NotEqual(t, id, NewID())
}

func TestNew_GeneratesID(t *testing.T) {
	assert.NotEmpty(t, New("").ID)
	assert.Equal(t, "fixed", New("fixed").ID)
}

func TestAddUserMessage_KeyedByLength(t *testing.T) {
	c := New("s")
	m := c.AddUserMessage("<p>hi</p>", nil)
	assert.Equal(t, "0", m.ID)
	assert.Equal(t, domain.RoleUser, m.Role)

	// A server query id that collides with the next length-based key.
	c.History.Set("2", domain.Message{ID: "2", Role: "Aria"})
	m = c.AddUserMessage("<p>again</p>", nil)
	assert.True(t, strings.HasPrefix(m.ID, "user-"), "got %q", m.ID)
	assert.Equal(t, 3, c.Len())
}

func TestClone_IsDeep(t *testing.T) {
	c := populated()
	cp := c.Clone()
	cp.Title = "changed"
	cp.AppendArtifact(domain.Artifact{Payload: "x"})
	msg, _ := cp.History.Get("q1")
	msg.Content = "mutated"
	cp.History.Set("q1", msg)

	orig, _ := c.History.Get("q1")
	assert.Equal(t, "<p>3 results found</p>", orig.Content)
	assert.Len(t, c.Artifacts, 1)
	assert.Equal(t, "Zebrafish heart study", c.Title)
}

func TestAttachments_ClearAfterSend(t *testing.T) {
	c := New("s")
	c.AddAttachments(domain.Attachment{Name: "a.txt"}, domain.Attachment{Name: "b.txt"})
	assert.Equal(t, []string{"a.txt", "b.txt"}, c.AttachmentNames())
	c.ClearAttachments()
	assert.Nil(t, c.AttachmentNames())
}

func TestManifest_RoundTrip(t *testing.T) {
	c := populated()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := c.ToManifest("user-1", now)

	assert.Equal(t, "chat", m.Type)
	assert.Equal(t, "The Aria Agents chat history of session-abc123xyz", m.Description)
	assert.Equal(t, "2026-03-01T12:00:00Z", m.Timestamp)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded domain.Manifest
	require.NoError(t, json.Unmarshal(data, &decoded))
	back := FromManifest(decoded)

	assert.Equal(t, c.ID, back.ID)
	assert.Equal(t, c.Title, back.Title)
	assert.True(t, c.History.Equal(&back.History))
	assert.Equal(t, []string{"0", "q1", "q2"}, back.History.Keys())
	assert.Equal(t, c.Artifacts, back.Artifacts)
	assert.Equal(t, c.Attachments, back.Attachments)

	q2, ok := back.History.Get("q2")
	require.True(t, ok)
	require.NotNil(t, q2.ArtifactIndex)
	assert.Equal(t, 0, *q2.ArtifactIndex)
}

func TestManifest_EmptyCollectionsEncodeAsArrays(t *testing.T) {
	m := New("s").ToManifest("u", time.Now())
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"artifacts":[]`)
	assert.Contains(t, string(data), `"attachments":[]`)
	assert.Contains(t, string(data), `"conversations":{}`)
}

func TestHistory_PreservesDocumentOrder(t *testing.T) {
	raw := `{"z":{"role":"user","content":"1"},"a":{"role":"Aria","content":"2"},"m":{"role":"Aria","content":"3"}}`
	var h domain.History
	require.NoError(t, json.Unmarshal([]byte(raw), &h))
	assert.Equal(t, []string{"z", "a", "m"}, h.Keys())

	out, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(out), `"z"`), strings.Index(string(out), `"a"`))
	assert.Less(t, strings.Index(string(out), `"a"`), strings.Index(string(out), `"m"`))

	z, _ := h.Get("z")
	assert.Equal(t, "z", z.ID, "id defaults to the key")
}

func TestHistory_SetKeepsPosition(t *testing.T) {
	var h domain.History
	h.Set("a", domain.Message{Content: "1"})
	h.Set("b", domain.Message{Content: "2"})
	h.Set("a", domain.Message{Content: "3"})
	assert.Equal(t, []string{"a", "b"}, h.Keys())
	last, _ := h.Last()
	assert.Equal(t, "2", last.Content)
}
