package busmem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	first := make(chan domain.Envelope, 1)
	second := make(chan domain.Envelope, 1)
	require.NoError(t, b.Subscribe(domain.ChannelAgentEvents, func(env domain.Envelope) { first <- env }))
	require.NoError(t, b.Subscribe(domain.ChannelAgentEvents, func(env domain.Envelope) { second <- env }))

	env := domain.Envelope{Type: domain.EventStatusChange, AgentID: 7, Payload: map[string]any{"status": "running"}}
	require.True(t, b.Publish(domain.ChannelAgentEvents, env))

	for _, ch := range []chan domain.Envelope{first, second} {
		select {
		case got := <-ch:
			assert.Equal(t, domain.EventStatusChange, got.Type)
			assert.EqualValues(t, 7, got.AgentID)
		case <-time.After(time.Second):
			t.Fatal("envelope not delivered")
		}
	}
}

func TestChannelsAreIsolated(t *testing.T) {
	b := New()
	defer b.Close()

	events := make(chan domain.Envelope, 1)
	require.NoError(t, b.Subscribe(domain.ChannelGroupUpdates, func(env domain.Envelope) { events <- env }))

	require.True(t, b.Publish(domain.ChannelAgentEvents, domain.Envelope{Type: domain.EventTradeExecuted}))

	select {
	case env := <-events:
		t.Fatalf("envelope leaked across channels: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOrderingPreserved(t *testing.T) {
	b := New()
	defer b.Close()

	got := make(chan int64, 16)
	require.NoError(t, b.Subscribe(domain.ChannelAgentEvents, func(env domain.Envelope) { got <- env.AgentID }))

	for i := int64(1); i <= 5; i++ {
		require.True(t, b.Publish(domain.ChannelAgentEvents, domain.Envelope{Type: domain.EventTradeExecuted, AgentID: i}))
	}
	for want := int64(1); want <= 5; want++ {
		select {
		case id := <-got:
			assert.Equal(t, want, id)
		case <-time.After(time.Second):
			t.Fatalf("envelope %d not delivered", want)
		}
	}
}

func TestPublishAfterClose(t *testing.T) {
	b := New()
	require.True(t, b.Ready())
	require.NoError(t, b.Close())

	assert.False(t, b.Publish(domain.ChannelAgentEvents, domain.Envelope{Type: domain.EventTradeExecuted}))

	// Close is idempotent.
	assert.NoError(t, b.Close())
}
