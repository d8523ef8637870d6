package notify

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sascodiego/dbggateway/pkg/logger"
)

func testLogger() logger.Logger { return logger.NewDefaultLogger("notify_test", "ERROR") }

func TestPublishSync_DeliversToAllSubscribers(t *testing.T) {
	b := New(testLogger())
	var count atomic.Int32
	b.Subscribe(func(n Notification) { count.Add(1) })
	b.Subscribe(func(n Notification) { count.Add(1) })

	b.PublishSync(Notification{Method: KindSessionEvent})
	assert.Equal(t, int32(2), count.Load())
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	b := New(testLogger())
	var count atomic.Int32
	id := b.Subscribe(func(n Notification) { count.Add(1) })
	b.Unsubscribe(id)

	b.PublishSync(Notification{Method: KindSessionEvent})
	assert.Equal(t, int32(0), count.Load())
}

func TestPublish_PanickingHandlerDoesNotAffectOthers(t *testing.T) {
	b := New(testLogger())
	var otherCalled atomic.Bool
	b.Subscribe(func(n Notification) { panic("boom") })
	b.Subscribe(func(n Notification) { otherCalled.Store(true) })

	b.PublishSync(Notification{Method: KindSessionEvent})
	assert.True(t, otherCalled.Load())
}

func TestClose_RefusesSubsequentPublishes(t *testing.T) {
	b := New(testLogger())
	var count atomic.Int32
	b.Subscribe(func(n Notification) { count.Add(1) })
	b.Close()

	b.PublishSync(Notification{Method: KindSessionEvent})
	assert.Equal(t, int32(0), count.Load())
	assert.Equal(t, int64(1), b.StatsSnapshot().Dropped)
}

func TestPublishSync_PerHandlerOrderingPreserved(t *testing.T) {
	b := New(testLogger())
	var mu sync.Mutex
	var seen []string
	b.Subscribe(func(n Notification) {
		mu.Lock()
		seen = append(seen, n.Method)
		mu.Unlock()
	})

	b.PublishSync(Notification{Method: "queued"})
	b.PublishSync(Notification{Method: "executing"})
	b.PublishSync(Notification{Method: "completed"})

	assert.Equal(t, []string{"queued", "executing", "completed"}, seen)
}
