package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesAllSubscribersInOrder(t *testing.T) {
	b := New(nil)

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		b.Subscribe(name, PhaseCompleted, func(Message) {
			order = append(order, name)
		})
	}

	b.Publish(NewMessage("coordinator", Broadcast, PhaseCompleted, PriorityNormal, nil))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestDirectDeliveryMatchesRecipientAndType(t *testing.T) {
	b := New(nil)

	got := make(map[string]int)
	b.Subscribe("qa", IssueFound, func(Message) { got["qa"]++ })
	b.Subscribe("debugging", IssueFound, func(Message) { got["debugging"]++ })
	b.Subscribe("qa", PhaseCompleted, func(Message) { got["qa-other-type"]++ })

	b.Publish(NewMessage("coding", "qa", IssueFound, PriorityHigh, nil))

	assert.Equal(t, 1, got["qa"])
	assert.Zero(t, got["debugging"])
	assert.Zero(t, got["qa-other-type"])
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	b := New(nil)

	var order []string
	b.Subscribe("a", TaskFailed, func(Message) { order = append(order, "a") })
	b.Subscribe("b", TaskFailed, func(Message) { panic("handler blew up") })
	b.Subscribe("c", TaskFailed, func(Message) { order = append(order, "c") })

	require.NotPanics(t, func() {
		b.Publish(NewMessage("coordinator", Broadcast, TaskFailed, PriorityNormal, nil))
	})
	assert.Equal(t, []string{"a", "c"}, order)

	// delivery counts the panicked handler too: it was invoked
	assert.Equal(t, int64(3), b.Statistics().Delivered)
}

func TestUnsubscribe(t *testing.T) {
	b := New(nil)

	calls := 0
	id := b.Subscribe("watcher", SystemInfo, func(Message) { calls++ })
	require.Equal(t, 1, b.SubscriptionCount())

	assert.True(t, b.Unsubscribe(id))
	assert.False(t, b.Unsubscribe(id))
	assert.Zero(t, b.SubscriptionCount())

	b.Publish(NewMessage("x", Broadcast, SystemInfo, PriorityLow, nil))
	assert.Zero(t, calls)
}

func TestStatistics(t *testing.T) {
	b := New(nil)
	b.Subscribe("a", PhaseStarted, func(Message) {})
	b.Subscribe("b", PhaseStarted, func(Message) {})

	b.Publish(NewMessage("x", Broadcast, PhaseStarted, PriorityNormal, nil))
	b.Publish(NewMessage("x", "a", PhaseStarted, PriorityNormal, nil))
	b.Publish(NewMessage("x", "nobody", CodeChanged, PriorityNormal, nil))

	stats := b.Statistics()
	assert.Equal(t, int64(3), stats.Published)
	assert.Equal(t, int64(3), stats.Delivered) // broadcast to both, direct to one
	assert.Equal(t, int64(1), stats.Broadcasts)
	assert.Equal(t, int64(2), stats.Direct)
	assert.Equal(t, int64(2), stats.ByType["phase_started"])
	assert.Equal(t, int64(1), stats.ByType["code_changed"])
}

func TestNilPayloadBecomesEmptyMap(t *testing.T) {
	msg := NewMessage("x", Broadcast, SystemAlert, PriorityHigh, nil)
	require.NotNil(t, msg.Payload)
	assert.NotEmpty(t, msg.ID)
	assert.True(t, msg.IsBroadcast())
}

func TestConcurrentPublish(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	seen := 0
	b.Subscribe("sink", TaskCompleted, func(Message) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.Publish(NewMessage("x", Broadcast, TaskCompleted, PriorityNormal, nil))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, seen)
	assert.Equal(t, int64(200), b.Statistics().Published)
}
