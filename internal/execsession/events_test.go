package execsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLog_SinceFiltersAndOrders(t *testing.T) {
	t.Parallel()

	var log eventLog
	id1 := log.record(SessionEventEntry{Kind: SessionEventWatcherMatched})
	id2 := log.record(SessionEventEntry{Kind: SessionEventCtrlCSent})
	_ = log.record(SessionEventEntry{Kind: SessionEventForceKill})

	entries := log.since(id1, 10)
	require.Len(t, entries, 2)
	assert.Equal(t, id2, entries[0].ID)
}

func TestEventLog_PrunesBeyondMax(t *testing.T) {
	t.Parallel()

	var log eventLog
	for i := 0; i < sessionEventMax+10; i++ {
		log.record(SessionEventEntry{Kind: SessionEventWatcherMatched})
	}
	entries := log.since(0, sessionEventMax+10)
	assert.LessOrEqual(t, len(entries), sessionEventMax)
}

func TestBroadcaster_PublishReachesSubscribers(t *testing.T) {
	t.Parallel()

	b := newBroadcaster()
	ch, cancel := b.subscribe()
	defer cancel()

	b.publish(Event{Kind: EventStarted})

	select {
	case evt := <-ch:
		assert.Equal(t, EventStarted, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected event was not received")
	}
}

func TestBroadcaster_CancelStopsDelivery(t *testing.T) {
	t.Parallel()

	b := newBroadcaster()
	ch, cancel := b.subscribe()
	cancel()

	b.publish(Event{Kind: EventStarted})

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")
}
