package override

import "sync"

// Delivery is an operator message waiting to be sent.
type Delivery struct {
	ChannelID string
	Text      string
	Attempts  int
}

// Queue is an unbounded FIFO of operator deliveries shared by the prompt
// goroutine (producer) and the delivery drain (consumer).
type Queue struct {
	mu    sync.Mutex
	items []Delivery
	ready chan struct{}
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Enqueue appends a delivery. It never blocks.
func (q *Queue) Enqueue(channelID, text string) {
	q.mu.Lock()
	q.items = append(q.items, Delivery{ChannelID: channelID, Text: text})
	q.mu.Unlock()
	q.signal()
}

// Requeue puts d back at the head so a retried delivery keeps its place.
func (q *Queue) Requeue(d Delivery) {
	q.mu.Lock()
	q.items = append([]Delivery{d}, q.items...)
	q.mu.Unlock()
	q.signal()
}

// TryDequeue removes and returns the oldest delivery, if any.
func (q *Queue) TryDequeue() (Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Delivery{}, false
	}
	d := q.items[0]
	q.items[0] = Delivery{}
	q.items = q.items[1:]
	return d, true
}

// Len returns the number of pending deliveries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready is signalled after every Enqueue or Requeue. Signals coalesce: a
// signal means the queue may be non-empty, so a receiver calls TryDequeue
// before waiting on Ready again.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
