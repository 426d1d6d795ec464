package events

import (
	"context"
	"testing"
	"time"

	"agency_calls_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayCarriesTranscriptEventsAcrossBuses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	producer := NewInMemoryBus(logger.Discard())
	NewRedisForwarder(client).Subscribe(producer)

	consumer := NewInMemoryBus(logger.Discard())
	received := make(chan Event, 1)
	consumer.Subscribe(TranscriptReady{}.EventName(), HandlerFunc(func(_ context.Context, e Event) error {
		received <- e
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relayDone := make(chan error, 1)
	go func() { relayDone <- RelayFromRedis(ctx, client, consumer, logger.Discard()) }()

	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels(RelayChannel)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent := TranscriptReady{
		BaseEvent: NewBaseEvent(),
		TenantID:  uuid.New(),
		CallID:    uuid.New(),
		JobID:     uuid.New(),
		Summary:   "Caller asked about renewal.",
		Attempts:  2,
	}
	require.NoError(t, producer.PublishSync(context.Background(), sent))

	select {
	case got := <-received:
		ready, ok := got.(TranscriptReady)
		require.True(t, ok)
		assert.Equal(t, sent.CallID, ready.CallID)
		assert.Equal(t, sent.Summary, ready.Summary)
		assert.True(t, sent.Timestamp.Equal(ready.Timestamp))
	case <-time.After(2 * time.Second):
		t.Fatal("relayed event never arrived")
	}

	cancel()
	assert.NoError(t, <-relayDone)
}

func TestDecodeRelayedRejectsUnknownEvents(t *testing.T) {
	_, err := decodeRelayed([]byte(`{"name":"calls.call.started","payload":{}}`))
	assert.Error(t, err)

	_, err = decodeRelayed([]byte(`not json`))
	assert.Error(t, err)
}
