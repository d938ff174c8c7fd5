package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
)

func newOutbound(f *fixture) *Outbound {
	o := NewOutbound(f.store, f.registry, f.creds, f.adapters)
	o.now = func() time.Time { return t0.Add(time.Hour) }
	return o
}

func seedInbound(t *testing.T, f *fixture) {
	t.Helper()
	f.store.EnsureConversation(domain.Conversation{
		ID: "t1", Platform: domain.PlatformFacebook, ParticipantID: "psid-1", AccountID: "page-1",
	})
	_, err := f.store.AppendMessage(domain.Message{
		ID: "m1", Platform: domain.PlatformFacebook, ConversationID: "t1",
		SenderID: "psid-1", Text: "do you ship?", Timestamp: t0,
	})
	require.NoError(t, err)
	f.store.RefreshSummary(domain.PlatformFacebook, "t1")
}

func TestSendMessage_AppendsOriginMessage(t *testing.T) {
	f := newFixture()
	f.addConnection(domain.PlatformFacebook, "page-1", "tok")
	seedInbound(t, f)

	f.fb.On("Send", mock.Anything, "tok", ports.OutboundPayload{
		AccountID: "page-1", RecipientID: "psid-1", Text: "yes we do",
	}).Return(ports.SendResult{MessageID: "m-out"}, nil)

	msg, err := newOutbound(f).SendMessage(context.Background(), "t1", "yes we do")
	require.NoError(t, err)
	assert.Equal(t, "m-out", msg.ID)
	assert.True(t, msg.FromBusiness)
	assert.True(t, msg.Read)
	assert.Equal(t, domain.MessageKindText, msg.Kind)

	conv, _ := f.store.Conversation(domain.PlatformFacebook, "t1")
	assert.Equal(t, "yes we do", conv.LastMessage)
	assert.Equal(t, t0.Add(time.Hour), conv.LastMessageAt)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestSendMedia_RecordsAttachment(t *testing.T) {
	f := newFixture()
	f.addConnection(domain.PlatformFacebook, "page-1", "tok")
	seedInbound(t, f)

	f.fb.On("Send", mock.Anything, "tok", mock.MatchedBy(func(p ports.OutboundPayload) bool {
		return p.MediaURL == "https://cdn.example/catalog.png" && p.Text == ""
	})).Return(ports.SendResult{MessageID: "m-img"}, nil)

	msg, err := newOutbound(f).SendMedia(context.Background(), "t1", "https://cdn.example/catalog.png")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageKindImage, msg.Kind)
	assert.Equal(t, []string{"https://cdn.example/catalog.png"}, msg.Attachments)

	conv, _ := f.store.Conversation(domain.PlatformFacebook, "t1")
	assert.Equal(t, domain.MediaPlaceholder, conv.LastMessage)
}

func TestSend_ConversationNotFound(t *testing.T) {
	f := newFixture()
	_, err := newOutbound(f).SendMessage(context.Background(), "nope", "hi")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestSend_NoConnectedAccount(t *testing.T) {
	f := newFixture()
	conn := f.addConnection(domain.PlatformFacebook, "page-1", "tok")
	require.NoError(t, f.registry.SetConnected(context.Background(), conn.ID, false))
	seedInbound(t, f)

	_, err := newOutbound(f).SendMessage(context.Background(), "t1", "hi")
	assert.ErrorIs(t, err, domain.ErrNoConnectedAccount)
	f.fb.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestSend_FallsBackToFirstConnectedAccount(t *testing.T) {
	f := newFixture()
	f.addConnection(domain.PlatformInstagram, "ig-1", "igtok")
	f.store.EnsureConversation(domain.Conversation{
		ID: "c1", Platform: domain.PlatformInstagram, ParticipantID: "igsid-1",
	})
	f.ig.On("Send", mock.Anything, "igtok", mock.Anything).Return(ports.SendResult{MessageID: "ig-out"}, nil)

	msg, err := newOutbound(f).SendMessage(context.Background(), "c1", "hey")
	require.NoError(t, err)
	assert.Equal(t, "ig-1", msg.SenderID)
}

func TestSend_AdapterFailureWrapsReason(t *testing.T) {
	f := newFixture()
	f.addConnection(domain.PlatformFacebook, "page-1", "tok")
	seedInbound(t, f)

	reason := errors.New("(#10) This message is sent outside of allowed window")
	f.fb.On("Send", mock.Anything, "tok", mock.Anything).Return(ports.SendResult{}, reason)

	_, err := newOutbound(f).SendMessage(context.Background(), "t1", "late reply")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSendFailed)

	var sendErr *domain.SendFailedError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, reason.Error(), sendErr.Reason)
	assert.Equal(t, 1, f.store.MessageCount())
}

func TestSend_InvalidCredentialDropsCachedValidation(t *testing.T) {
	f := newFixture()
	conn := f.addConnection(domain.PlatformFacebook, "page-1", "tok")
	seedInbound(t, f)

	f.fb.On("ValidateCredential", mock.Anything, "tok").Return(validCheck, nil)
	_, err := f.creds.Ensure(context.Background(), conn)
	require.NoError(t, err)

	f.fb.On("Send", mock.Anything, "tok", mock.Anything).
		Return(ports.SendResult{}, fmt.Errorf("token expired: %w", domain.ErrCredentialInvalid))
	_, err = newOutbound(f).SendMessage(context.Background(), "t1", "hi")
	assert.ErrorIs(t, err, domain.ErrSendFailed)
	assert.ErrorIs(t, err, domain.ErrCredentialInvalid)

	_, err = f.creds.Ensure(context.Background(), conn)
	require.NoError(t, err)
	f.fb.AssertNumberOfCalls(t, "ValidateCredential", 2)
}

func TestReplyToMessage(t *testing.T) {
	f := newFixture()
	f.addConnection(domain.PlatformFacebook, "page-1", "tok")
	seedInbound(t, f)
	f.fb.On("Send", mock.Anything, "tok", mock.Anything).Return(ports.SendResult{MessageID: "m-out"}, nil)

	out := newOutbound(f)
	sent, err := out.ReplyToMessage(context.Background(), domain.PlatformFacebook, "m1", "yes, nationwide")
	require.NoError(t, err)
	assert.Equal(t, "t1", sent.ConversationID)

	original, _ := f.store.Message(domain.PlatformFacebook, "m1")
	assert.True(t, original.Replied)
	assert.Equal(t, "yes, nationwide", original.ReplyText)
	require.NotNil(t, original.RepliedAt)
	assert.Equal(t, t0.Add(time.Hour), *original.RepliedAt)

	_, err = out.ReplyToMessage(context.Background(), domain.PlatformFacebook, "missing", "x")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}
