package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"
)

// sendTimeout is how long Emit waits on a full buffer before dropping.
const sendTimeout = 100 * time.Millisecond

// ChannelObserver forwards events to a buffered channel so slow consumers
// run off the task loop. When the buffer stays full the event is dropped.
type ChannelObserver struct {
	events       chan Event
	droppedCount atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewChannelObserver creates a ChannelObserver with the given buffer size.
func NewChannelObserver(bufferSize int) *ChannelObserver {
	return &ChannelObserver{events: make(chan Event, bufferSize)}
}

// OnEvent implements Observer.
func (c *ChannelObserver) OnEvent(e Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}

	select {
	case c.events <- e:
		return nil
	default:
	}

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case c.events <- e:
	case <-timer.C:
		c.droppedCount.Add(1)
	}
	return nil
}

// DroppedCount returns the total number of events that have been dropped.
func (c *ChannelObserver) DroppedCount() uint64 {
	return c.droppedCount.Load()
}

// Events returns the receive side of the buffer.
func (c *ChannelObserver) Events() <-chan Event {
	return c.events
}

// Close closes the channel. Later events are discarded.
func (c *ChannelObserver) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}
