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
)

func thread(id, participantID, participantName string) ports.NativeThread {
	return ports.NativeThread{
		ID: id,
		Participants: []ports.NativeParticipant{
			{ID: participantID, Name: participantName},
			{ID: "page-1", Name: "Acme"},
		},
		UpdatedAt: t0,
	}
}

func nativeMsg(id, sender, text string, at time.Time) ports.NativeMessage {
	return ports.NativeMessage{ID: id, SenderID: sender, Text: text, CreatedAt: at}
}

func newSync(f *fixture) *SyncOrchestrator {
	o := NewSyncOrchestrator(f.store, f.registry, f.creds, f.adapters)
	o.now = func() time.Time { return t0.Add(time.Hour) }
	return o
}

func TestSyncPlatform_NoConnections(t *testing.T) {
	f := newFixture()
	assert.False(t, newSync(f).SyncPlatform(context.Background(), domain.PlatformFacebook))
	f.fb.AssertNotCalled(t, "ListThreads", mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncPlatform_MergesThreadsAndMessages(t *testing.T) {
	f := newFixture()
	conn := f.addConnection(domain.PlatformFacebook, "page-1", "tok")

	f.fb.On("ValidateCredential", mock.Anything, "tok").Return(validCheck, nil)
	f.fb.On("ListThreads", mock.Anything, "tok", "page-1").
		Return([]ports.NativeThread{thread("t1", "psid-1", "Ana Souza")}, nil)
	f.fb.On("FetchProfile", mock.Anything, "tok", "psid-1").
		Return(ports.Profile{DisplayName: "Ana Souza", AvatarURL: "https://cdn.example/ana.jpg"}, nil)
	f.fb.On("ListMessages", mock.Anything, "tok", "t1").Return([]ports.NativeMessage{
		nativeMsg("m1", "psid-1", "hi", t0),
		nativeMsg("m2", "page-1", "hello, how can we help?", t0.Add(time.Minute)),
		nativeMsg("m3", "psid-1", "price?", t0.Add(2*time.Minute)),
	}, nil)

	o := newSync(f)
	require.True(t, o.SyncPlatform(context.Background(), domain.PlatformFacebook))

	conv, ok := f.store.Conversation(domain.PlatformFacebook, "t1")
	require.True(t, ok)
	assert.Equal(t, "psid-1", conv.ParticipantID)
	assert.Equal(t, "Ana Souza", conv.ParticipantName)
	assert.Equal(t, "https://cdn.example/ana.jpg", conv.ParticipantAvatar)
	assert.Equal(t, "page-1", conv.AccountID)
	assert.Equal(t, "price?", conv.LastMessage)
	assert.Equal(t, 2, conv.UnreadCount)

	reply, _ := f.store.Message(domain.PlatformFacebook, "m2")
	assert.True(t, reply.FromBusiness)
	assert.True(t, reply.Read)

	stored, _ := f.registry.Get(conn.ID)
	require.NotNil(t, stored.LastSyncAt)
	assert.Equal(t, t0.Add(time.Hour), *stored.LastSyncAt)

	// Profile lookups are memoised per run.
	f.fb.AssertNumberOfCalls(t, "FetchProfile", 1)
}

func TestSyncPlatform_Idempotent(t *testing.T) {
	f := newFixture()
	f.addConnection(domain.PlatformFacebook, "page-1", "tok")

	f.fb.On("ValidateCredential", mock.Anything, "tok").Return(validCheck, nil)
	f.fb.On("ListThreads", mock.Anything, "tok", "page-1").
		Return([]ports.NativeThread{thread("t1", "psid-1", "Ana")}, nil)
	f.fb.On("FetchProfile", mock.Anything, mock.Anything, mock.Anything).Return(ports.Profile{}, nil)
	f.fb.On("ListMessages", mock.Anything, "tok", "t1").Return([]ports.NativeMessage{
		nativeMsg("m1", "psid-1", "hi", t0),
		nativeMsg("m2", "psid-1", "there", t0.Add(time.Second)),
	}, nil)

	o := newSync(f)
	o.SyncPlatform(context.Background(), domain.PlatformFacebook)
	first := f.store.Snapshot()

	o.SyncPlatform(context.Background(), domain.PlatformFacebook)
	second := f.store.Snapshot()

	assert.Equal(t, 2, f.store.MessageCount())
	assert.Equal(t, first.Messages, second.Messages)
	assert.Equal(t, first.Conversations, second.Conversations)
}

func TestSyncPlatform_PartialFailureIsolation(t *testing.T) {
	f := newFixture()
	bad := f.addConnection(domain.PlatformFacebook, "page-bad", "bad")
	f.addConnection(domain.PlatformFacebook, "page-1", "tok")

	f.fb.On("ValidateCredential", mock.Anything, "bad").
		Return(ports.CredentialCheck{Reason: "revoked"}, nil)
	f.fb.On("ValidateCredential", mock.Anything, "tok").Return(validCheck, nil)
	f.fb.On("ListThreads", mock.Anything, "tok", "page-1").Return([]ports.NativeThread{
		thread("t-broken", "psid-9", "Broken"),
		thread("t1", "psid-1", "Ana"),
	}, nil)
	f.fb.On("FetchProfile", mock.Anything, mock.Anything, mock.Anything).Return(ports.Profile{}, nil)
	f.fb.On("ListMessages", mock.Anything, "tok", "t-broken").
		Return(nil, errors.New("unexpected EOF"))
	f.fb.On("ListMessages", mock.Anything, "tok", "t1").
		Return([]ports.NativeMessage{nativeMsg("m1", "psid-1", "hi", t0)}, nil)

	o := newSync(f)
	assert.True(t, o.SyncPlatform(context.Background(), domain.PlatformFacebook))

	// The bad connection is disconnected, the good one still lands its thread.
	stored, _ := f.registry.Get(bad.ID)
	assert.False(t, stored.Connected)
	assert.True(t, f.store.HasMessage(domain.PlatformFacebook, "m1"))
	f.fb.AssertNotCalled(t, "ListThreads", mock.Anything, "bad", mock.Anything)
}

func TestSyncPlatform_ReusesWebhookConversation(t *testing.T) {
	f := newFixture()
	f.addConnection(domain.PlatformFacebook, "page-1", "tok")

	// A webhook opened the conversation before the first pull.
	f.store.EnsureConversation(domain.Conversation{
		ID: "page-1_psid-1", Platform: domain.PlatformFacebook,
		ParticipantID: "psid-1", AccountID: "page-1", Active: true,
	})
	_, err := f.store.AppendMessage(domain.Message{
		ID: "m1", Platform: domain.PlatformFacebook, ConversationID: "page-1_psid-1",
		SenderID: "psid-1", Text: "hi", Timestamp: t0,
	})
	require.NoError(t, err)

	f.fb.On("ValidateCredential", mock.Anything, "tok").Return(validCheck, nil)
	f.fb.On("ListThreads", mock.Anything, "tok", "page-1").
		Return([]ports.NativeThread{thread("t1", "psid-1", "Ana")}, nil)
	f.fb.On("FetchProfile", mock.Anything, mock.Anything, mock.Anything).Return(ports.Profile{}, nil)
	f.fb.On("ListMessages", mock.Anything, "tok", "t1").Return([]ports.NativeMessage{
		nativeMsg("m1", "psid-1", "hi", t0),
		nativeMsg("m2", "psid-1", "anyone?", t0.Add(time.Minute)),
	}, nil)

	newSync(f).SyncPlatform(context.Background(), domain.PlatformFacebook)

	assert.Len(t, f.store.Conversations(domain.PlatformFacebook), 1)
	conv, ok := f.store.Conversation(domain.PlatformFacebook, "page-1_psid-1")
	require.True(t, ok)
	assert.Equal(t, []string{"m1", "m2"}, conv.MessageIDs)
	assert.Equal(t, "Ana", conv.ParticipantName)
	assert.Equal(t, "anyone?", conv.LastMessage)
}

func TestSendThenSync(t *testing.T) {
	f := newFixture()
	f.addConnection(domain.PlatformFacebook, "page-1", "tok")
	f.store.EnsureConversation(domain.Conversation{
		ID: "t1", Platform: domain.PlatformFacebook, ParticipantID: "psid-1", AccountID: "page-1",
	})

	f.fb.On("Send", mock.Anything, "tok", mock.Anything).Return(ports.SendResult{MessageID: "m-out"}, nil)
	out := NewOutbound(f.store, f.registry, f.creds, f.adapters)
	_, err := out.SendMessage(context.Background(), "t1", "on our way")
	require.NoError(t, err)

	f.fb.On("ValidateCredential", mock.Anything, "tok").Return(validCheck, nil)
	f.fb.On("ListThreads", mock.Anything, "tok", "page-1").
		Return([]ports.NativeThread{thread("t1", "psid-1", "Ana")}, nil)
	f.fb.On("FetchProfile", mock.Anything, mock.Anything, mock.Anything).Return(ports.Profile{}, nil)
	f.fb.On("ListMessages", mock.Anything, "tok", "t1").
		Return([]ports.NativeMessage{nativeMsg("m-out", "page-1", "on our way", t0)}, nil)

	newSync(f).SyncPlatform(context.Background(), domain.PlatformFacebook)

	assert.Equal(t, 1, f.store.MessageCount())
	msg, _ := f.store.Message(domain.PlatformFacebook, "m-out")
	assert.True(t, msg.FromBusiness)
}

func TestSyncAll_RunsEveryPlatform(t *testing.T) {
	f := newFixture()
	f.addConnection(domain.PlatformInstagram, "ig-1", "igtok")
	f.ig.On("ValidateCredential", mock.Anything, "igtok").Return(validCheck, nil)
	f.ig.On("ListThreads", mock.Anything, "igtok", "ig-1").Return([]ports.NativeThread{}, nil)

	results := newSync(f).SyncAll(context.Background())
	assert.Equal(t, map[domain.Platform]bool{
		domain.PlatformFacebook:  false,
		domain.PlatformInstagram: true,
	}, results)
}

func TestSyncPause(t *testing.T) {
	o := newSync(newFixture())
	p := o.Pause()
	assert.False(t, p.IsActive())

	p.Enable("rate limited", "ops")
	status := p.Status()
	assert.True(t, status.Active)
	assert.Equal(t, "rate limited", status.Reason)

	p.Disable("ops")
	assert.False(t, p.IsActive())
	assert.Empty(t, p.Status().Reason)
}

func TestPickParticipant(t *testing.T) {
	got := pickParticipant([]ports.NativeParticipant{{ID: "page-1"}, {ID: "psid-1"}}, "page-1")
	assert.Equal(t, "psid-1", got.ID)

	got = pickParticipant([]ports.NativeParticipant{{ID: "page-1"}}, "page-1")
	assert.Equal(t, "page-1", got.ID)

	assert.Empty(t, pickParticipant(nil, "page-1").ID)
}
