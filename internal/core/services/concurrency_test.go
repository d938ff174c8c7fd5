package services

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/ports"
)

// Webhook deliveries and a pull of the same thread race on identical ids.
// Run with -race.
func TestIngestDuringSync_EachMessageOnce(t *testing.T) {
	f := newFixture()
	f.addConnection(domain.PlatformFacebook, "page-1", "tok")

	const n = 50
	native := make([]ports.NativeMessage, n)
	events := make([]ports.WebhookEvent, n)
	for i := 0; i < n; i++ {
		id := "m" + strconv.Itoa(i)
		at := t0.Add(time.Duration(i) * time.Second)
		native[i] = nativeMsg(id, "psid-1", "hi", at)
		events[i] = messageEvent(id, "psid-1", "page-1", "hi", at)
	}

	f.fb.On("ValidateCredential", mock.Anything, "tok").Return(validCheck, nil)
	f.fb.On("ListThreads", mock.Anything, "tok", "page-1").
		Return([]ports.NativeThread{thread("t1", "psid-1", "Ana Souza")}, nil)
	f.fb.On("FetchProfile", mock.Anything, "tok", mock.Anything).Return(ports.Profile{}, nil)
	f.fb.On("ListMessages", mock.Anything, "tok", "t1").Return(native, nil)
	f.fb.On("VerifyWebhookSignature", rawPayload, mock.Anything).Return(true)
	f.fb.On("ParseWebhookPayload", rawPayload).Return(events, nil)

	o := newSync(f)
	ing := NewIngestor(f.store, f.registry, f.adapters, nil)
	ctx := context.Background()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			o.SyncPlatform(ctx, domain.PlatformFacebook)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, err := ing.Ingest(ctx, domain.PlatformFacebook, rawPayload, "sig")
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, n, f.store.MessageCount())

	convs := f.store.Conversations(domain.PlatformFacebook)
	require.Len(t, convs, 1, "both paths converge on one conversation")
	require.Len(t, convs[0].MessageIDs, n)

	seen := make(map[string]bool, n)
	for _, id := range convs[0].MessageIDs {
		assert.False(t, seen[id], "message %s recorded twice", id)
		seen[id] = true
	}
	assert.Equal(t, n, convs[0].UnreadCount)
	assert.True(t, convs[0].LastMessageAt.Equal(t0.Add((n-1)*time.Second)))
}
