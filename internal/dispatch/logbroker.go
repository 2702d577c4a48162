package dispatch

import (
	"sync"

	"github.com/mkonduru/flowd/internal/model"
)

// subscriberBufferSize is the channel buffer for each log subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// LogBroker fans handler log lines out to per-invocation subscribers. Lines
// carry their persisted sequence number, so a consumer can replay stored
// history and then join the live stream without duplication by filtering on
// Seq. Safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after an invocation finishes) receive a closed channel instead
// of blocking forever. Each marker is a few bytes, which is acceptable for
// the expected invocation volume.
type LogBroker struct {
	mu     sync.Mutex
	topics map[string]*logTopic
}

type logTopic struct {
	subs   map[int]chan model.LogLine
	nextID int
	closed bool
}

// NewLogBroker creates a new log broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics: make(map[string]*logTopic),
	}
}

// Subscribe returns a channel that receives log lines for the given
// invocation and an unsubscribe function. If the invocation has already
// finished (Close was called), the returned channel is immediately closed.
func (b *LogBroker) Subscribe(invocationID string) (<-chan model.LogLine, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan model.LogLine)}
		b.topics[invocationID] = t
	}

	ch := make(chan model.LogLine, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a log line to all subscribers of its invocation. Lines are
// dropped for subscribers whose buffers are full.
func (b *LogBroker) Publish(line model.LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[line.InvocationID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
			// Drop line for slow subscribers to avoid blocking execution.
		}
	}
}

// Close signals that no more logs will be published for the given invocation.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *LogBroker) Close(invocationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[invocationID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[invocationID] = &logTopic{subs: make(map[int]chan model.LogLine), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
