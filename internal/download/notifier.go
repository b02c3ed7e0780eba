package download

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Listener receives a snapshot of every task after each change. Each call
// gets its own copy of the map.
type Listener func(tasks map[string]Task)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Subscriber is a buffered, channel-backed listener for consumers that
// cannot block the manager, such as streaming HTTP clients.
type Subscriber struct {
	ID       uint64
	SendChan chan map[string]Task
	mu       sync.Mutex
	closed   bool
}

// Send delivers a snapshot without blocking. When the buffer is full the
// oldest pending snapshot is dropped, since only the latest state matters.
func (s *Subscriber) Send(tasks map[string]Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	for {
		select {
		case s.SendChan <- tasks:
			return true
		default:
		}
		select {
		case <-s.SendChan:
		default:
		}
	}
}

// Close closes the subscriber's channel.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.SendChan)
	}
}

// Notifier fans task snapshots out to listeners in registration order.
type Notifier struct {
	mu          sync.RWMutex
	listeners   []listenerEntry
	subscribers map[uint64]*Subscriber
	nextID      uint64
	logger      *zap.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		subscribers: make(map[uint64]*Subscriber),
		logger:      logger,
	}
}

// AddListener registers fn and returns a function that removes it.
func (n *Notifier) AddListener(fn Listener) func() {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, listenerEntry{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.removeListener(id) })
	}
}

func (n *Notifier) removeListener(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, l := range n.listeners {
		if l.id == id {
			n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
			return
		}
	}
}

// Subscribe registers a channel-backed subscriber with the given buffer.
func (n *Notifier) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 16
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	s := &Subscriber{ID: n.nextID, SendChan: make(chan map[string]Task, buffer)}
	n.subscribers[s.ID] = s
	return s
}

// Unsubscribe removes s and closes its channel.
func (n *Notifier) Unsubscribe(s *Subscriber) {
	n.mu.Lock()
	if _, ok := n.subscribers[s.ID]; ok {
		delete(n.subscribers, s.ID)
		s.Close()
	}
	n.mu.Unlock()
}

// Broadcast delivers snapshot to every listener and subscriber. A panicking
// listener is logged and skipped.
func (n *Notifier) Broadcast(snapshot map[string]Task) {
	n.mu.RLock()
	listeners := make([]listenerEntry, len(n.listeners))
	copy(listeners, n.listeners)
	subscribers := make([]*Subscriber, 0, len(n.subscribers))
	for _, s := range n.subscribers {
		subscribers = append(subscribers, s)
	}
	n.mu.RUnlock()

	for _, l := range listeners {
		n.deliver(l, cloneTasks(snapshot))
	}
	for _, s := range subscribers {
		s.Send(cloneTasks(snapshot))
	}
}

func (n *Notifier) deliver(l listenerEntry, tasks map[string]Task) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("download listener panicked",
				zap.Uint64("listener", l.id),
				zap.Any("panic", r))
		}
	}()
	l.fn(tasks)
}

// ListenerCount returns the number of registered listeners and subscribers.
func (n *Notifier) ListenerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners) + len(n.subscribers)
}

func cloneTasks(tasks map[string]Task) map[string]Task {
	out := make(map[string]Task, len(tasks))
	for id, t := range tasks {
		out[id] = t
	}
	return out
}

// FormatSpeed formats speed in human-readable format
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 1024 {
		return "< 1 KB/s"
	} else if bytesPerSecond < 1024*1024 {
		return fmt.Sprintf("%.1f KB/s", bytesPerSecond/1024)
	}
	return fmt.Sprintf("%.1f MB/s", bytesPerSecond/(1024*1024))
}

// FormatETA formats ETA in human-readable format
func FormatETA(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	} else if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}

// ETA estimates the seconds remaining for t, or -1 when unknown.
func (t Task) ETA() int {
	if t.Speed <= 0 || t.TotalBytes <= 0 {
		return -1
	}
	remaining := t.TotalBytes - t.BytesDownloaded
	if remaining < 0 {
		remaining = 0
	}
	return int(float64(remaining) / t.Speed)
}
