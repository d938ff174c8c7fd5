package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
	"social-inbox/internal/core/store"
)

var rawPayload = []byte(`{"object":"page"}`)

func messageEvent(mid, sender, recipient, text string, at time.Time) ports.WebhookEvent {
	return ports.WebhookEvent{
		Kind:            ports.EventMessage,
		AccountID:       "page-1",
		SenderID:        sender,
		RecipientID:     recipient,
		TimestampMillis: at.UnixMilli(),
		Text:            text,
		MessageID:       mid,
	}
}

func TestIngest_InboundMessage(t *testing.T) {
	f := newFixture()
	ing := NewIngestor(f.store, f.registry, f.adapters, nil)

	f.fb.On("VerifyWebhookSignature", rawPayload, "sha256=ok").Return(true)
	f.fb.On("ParseWebhookPayload", rawPayload).Return([]ports.WebhookEvent{
		messageEvent("m1", "psid-1", "page-1", "hello", t0),
	}, nil)

	result, err := ing.Ingest(context.Background(), domain.PlatformFacebook, rawPayload, "sha256=ok")
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Events: 1, Appended: 1}, result)

	conv, ok := f.store.Conversation(domain.PlatformFacebook, "page-1_psid-1")
	require.True(t, ok)
	assert.Equal(t, "psid-1", conv.ParticipantID)
	assert.Equal(t, "hello", conv.LastMessage)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.True(t, conv.LastMessageAt.Equal(t0))

	// The account is now known to the registry as webhook-verified.
	conn, ok := f.registry.FindByAccount(domain.PlatformFacebook, "page-1")
	require.True(t, ok)
	assert.True(t, conn.WebhookVerified)
	assert.False(t, conn.Connected)
}

func TestIngest_DuplicateDelivery(t *testing.T) {
	f := newFixture()
	ing := NewIngestor(f.store, f.registry, f.adapters, nil)

	f.fb.On("VerifyWebhookSignature", rawPayload, mock.Anything).Return(true)
	f.fb.On("ParseWebhookPayload", rawPayload).Return([]ports.WebhookEvent{
		messageEvent("m1", "psid-1", "page-1", "hello", t0),
	}, nil)

	ctx := context.Background()
	_, err := ing.Ingest(ctx, domain.PlatformFacebook, rawPayload, "sig")
	require.NoError(t, err)
	result, err := ing.Ingest(ctx, domain.PlatformFacebook, rawPayload, "sig")
	require.NoError(t, err)

	assert.Equal(t, 0, result.Appended)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, f.store.MessageCount())
	conv, _ := f.store.Conversation(domain.PlatformFacebook, "page-1_psid-1")
	assert.Equal(t, []string{"m1"}, conv.MessageIDs)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestIngest_BadSignatureRejectedBeforeParsing(t *testing.T) {
	f := newFixture()
	audit := new(MockWebhookRepository)
	ing := NewIngestor(f.store, f.registry, f.adapters, audit)

	f.fb.On("VerifyWebhookSignature", rawPayload, "sha256=forged").Return(false)

	_, err := ing.Ingest(context.Background(), domain.PlatformFacebook, rawPayload, "sha256=forged")
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	f.fb.AssertNotCalled(t, "ParseWebhookPayload", mock.Anything)
	audit.AssertNotCalled(t, "SaveLog", mock.Anything, mock.Anything)
	assert.Equal(t, 0, f.store.MessageCount())
	assert.Empty(t, f.registry.List(store.Filter{}))
}

func TestIngest_EchoGoesToRecipientConversation(t *testing.T) {
	f := newFixture()
	ing := NewIngestor(f.store, f.registry, f.adapters, nil)

	f.fb.On("VerifyWebhookSignature", rawPayload, mock.Anything).Return(true)
	f.fb.On("ParseWebhookPayload", rawPayload).Return([]ports.WebhookEvent{
		messageEvent("m1", "psid-1", "page-1", "question", t0),
		messageEvent("m2", "page-1", "psid-1", "answer", t0.Add(time.Minute)),
	}, nil)

	_, err := ing.Ingest(context.Background(), domain.PlatformFacebook, rawPayload, "sig")
	require.NoError(t, err)

	convs := f.store.Conversations(domain.PlatformFacebook)
	require.Len(t, convs, 1)
	assert.Equal(t, []string{"m1", "m2"}, convs[0].MessageIDs)
	assert.Equal(t, "answer", convs[0].LastMessage)
	// The echo is origin=true and does not raise unread.
	assert.Equal(t, 1, convs[0].UnreadCount)

	echo, _ := f.store.Message(domain.PlatformFacebook, "m2")
	assert.True(t, echo.FromBusiness)
	assert.True(t, echo.Read)
}

func TestIngest_MatchesPulledConversation(t *testing.T) {
	f := newFixture()
	f.store.EnsureConversation(domain.Conversation{
		ID: "t_100", Platform: domain.PlatformFacebook, ParticipantID: "psid-1", AccountID: "page-1",
	})
	ing := NewIngestor(f.store, f.registry, f.adapters, nil)

	f.fb.On("VerifyWebhookSignature", rawPayload, mock.Anything).Return(true)
	f.fb.On("ParseWebhookPayload", rawPayload).Return([]ports.WebhookEvent{
		messageEvent("m9", "psid-1", "page-1", "still there?", t0),
	}, nil)

	_, err := ing.Ingest(context.Background(), domain.PlatformFacebook, rawPayload, "sig")
	require.NoError(t, err)

	msg, ok := f.store.Message(domain.PlatformFacebook, "m9")
	require.True(t, ok)
	assert.Equal(t, "t_100", msg.ConversationID)
	assert.Len(t, f.store.Conversations(""), 1)
}

func TestIngest_NonMessageEventsSkipped(t *testing.T) {
	f := newFixture()
	ing := NewIngestor(f.store, f.registry, f.adapters, nil)

	f.ig.On("VerifyWebhookSignature", rawPayload, mock.Anything).Return(true)
	f.ig.On("ParseWebhookPayload", rawPayload).Return([]ports.WebhookEvent{
		{Kind: ports.EventRead, AccountID: "ig-1", SenderID: "igsid-1", MessageID: "m1"},
		{Kind: ports.EventDelivery, AccountID: "ig-1", SenderID: "igsid-1"},
	}, nil)

	result, err := ing.Ingest(context.Background(), domain.PlatformInstagram, rawPayload, "sig")
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Events: 2, Skipped: 2}, result)
	assert.Equal(t, 0, f.store.MessageCount())
}

func TestIngest_MalformedPayloadIsAudited(t *testing.T) {
	f := newFixture()
	audit := new(MockWebhookRepository)
	done := make(chan *domain.WebhookLog, 1)
	audit.On("SaveLog", mock.Anything, mock.AnythingOfType("*domain.WebhookLog")).
		Run(func(args mock.Arguments) { done <- args.Get(1).(*domain.WebhookLog) }).
		Return(nil)
	ing := NewIngestor(f.store, f.registry, f.adapters, audit)

	bad := []byte(`{"invalid json`)
	f.fb.On("VerifyWebhookSignature", bad, mock.Anything).Return(true)
	f.fb.On("ParseWebhookPayload", bad).Return(nil, domain.ErrMalformedResponse)

	_, err := ing.Ingest(context.Background(), domain.PlatformFacebook, bad, "sig")
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)

	select {
	case log := <-done:
		assert.Equal(t, domain.WebhookStatusFailed, log.Status)
		require.NotNil(t, log.ErrorLog)
		assert.Equal(t, "facebook", log.Platform)
	case <-time.After(time.Second):
		t.Fatal("webhook log was not saved")
	}
}

func TestIngest_AuditFailureDoesNotFailDelivery(t *testing.T) {
	f := newFixture()
	audit := new(MockWebhookRepository)
	saved := make(chan struct{}, 1)
	audit.On("SaveLog", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { saved <- struct{}{} }).
		Return(errors.New("db down"))
	ing := NewIngestor(f.store, f.registry, f.adapters, audit)

	f.fb.On("VerifyWebhookSignature", rawPayload, mock.Anything).Return(true)
	f.fb.On("ParseWebhookPayload", rawPayload).Return([]ports.WebhookEvent{
		messageEvent("m1", "psid-1", "page-1", "hello", t0),
	}, nil)

	assert.NotPanics(t, func() {
		_, err := ing.Ingest(context.Background(), domain.PlatformFacebook, rawPayload, "sig")
		assert.NoError(t, err)
	})
	select {
	case <-saved:
	case <-time.After(time.Second):
		t.Fatal("webhook log save was not attempted")
	}
	assert.Equal(t, 1, f.store.MessageCount())
}

func TestIngest_UnknownPlatform(t *testing.T) {
	f := newFixture()
	ing := NewIngestor(f.store, f.registry, map[domain.Platform]ports.PlatformAdapter{}, nil)

	_, err := ing.Ingest(context.Background(), domain.PlatformFacebook, rawPayload, "sig")
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}
