package chat

import (
	"context"
	"errors"
	"testing"

	"ariachat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitlePrompt(t *testing.T) {
	want := `Give a succinct title to this chat session summarizing this prompt: "zebrafish hearts". Respond ONLY with words, maximum six words. DO NOT include "Chat Session Title".`
	assert.Equal(t, want, TitlePrompt("zebrafish hearts"))
}

func TestTitleNegotiator_ParsesResponse(t *testing.T) {
	svc := &fakeService{titleResponse: `{"response": "  Zebrafish Heart Regeneration \n"}`}
	n := NewTitleNegotiator(svc, testLogger())

	base := domain.ChatRequest{
		Prompt:      "ignored",
		SessionID:   sid,
		Attachments: []domain.Attachment{{Name: "big.csv", Content: "..."}},
	}
	title, err := n.Negotiate(context.Background(), base, "zebrafish hearts")
	require.NoError(t, err)
	assert.Equal(t, "Zebrafish Heart Regeneration", title)

	require.Len(t, svc.requests, 1)
	assert.Equal(t, TitlePrompt("zebrafish hearts"), svc.requests[0].Prompt)
	assert.Equal(t, sid, svc.requests[0].SessionID)
	assert.Nil(t, svc.requests[0].Attachments)
}

func TestTitleNegotiator_MalformedLeavesTitleEmpty(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"answer":"x"}`, `{"response":"   "}`} {
		svc := &fakeService{titleResponse: raw}
		title, err := NewTitleNegotiator(svc, testLogger()).Negotiate(context.Background(), domain.ChatRequest{SessionID: sid}, "hi")
		require.NoError(t, err, raw)
		assert.Empty(t, title, raw)
	}
}

func TestTitleNegotiator_TransportError(t *testing.T) {
	boom := errors.New("boom")
	svc := &fakeService{titleErr: boom}
	title, err := NewTitleNegotiator(svc, nil).Negotiate(context.Background(), domain.ChatRequest{SessionID: sid}, "hi")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, title)
}
