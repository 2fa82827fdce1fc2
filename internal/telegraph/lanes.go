package telegraph

import "sync"

// laneSet runs submitted work serially per key and in parallel across
// keys. A key's goroutine exits once its queue drains.
type laneSet struct {
	mu     sync.Mutex
	queues map[string][]func()
}

func newLaneSet() *laneSet {
	return &laneSet{queues: make(map[string][]func())}
}

func (l *laneSet) submit(key string, fn func()) {
	l.mu.Lock()
	q, running := l.queues[key]
	l.queues[key] = append(q, fn)
	l.mu.Unlock()
	if !running {
		go l.run(key)
	}
}

func (l *laneSet) run(key string) {
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		l.queues[key] = q[1:]
		l.mu.Unlock()
		fn()
	}
}

// active returns the number of keys with queued or running work.
func (l *laneSet) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}
