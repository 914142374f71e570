// Package eventbus is the in-process pub/sub that turns Store writes
// into SSE notifications. It is modeled directly on leapmux's
// agentmgr.Manager: one buffered channel per watcher, non-blocking
// fan-out that drops rather than blocks a slow subscriber, and listener
// isolation so a panicking or wedged consumer can never poison a publish.
package eventbus

import (
	"sync"

	"github.com/agorai/agorai/internal/store"
)

// watcherBuffer bounds how many unconsumed messages a Watcher holds
// before Publish starts dropping for it.
const watcherBuffer = 64

// Watcher is a single subscriber's channel of message:created events.
// The zero value is not usable; construct one via Bus.Watch.
type Watcher struct {
	ch             chan store.Message
	conversationID string
}

// C returns the channel to range/select over. It is closed by Unwatch.
func (w *Watcher) C() <-chan store.Message { return w.ch }

// Bus fans out message:created events to every Watcher registered for
// the event's conversation. Construct one with New; the zero value has
// no watcher map and is not usable.
type Bus struct {
	mu       sync.RWMutex
	watchers map[string]map[*Watcher]struct{}
}

// New returns a ready-to-use Bus.
func New() *Bus {
	return &Bus{watchers: make(map[string]map[*Watcher]struct{})}
}

// Watch registers a new Watcher for conversationID. Callers must call
// Unwatch when done (typically on session/SSE-stream teardown) or the
// registration leaks.
func (b *Bus) Watch(conversationID string) *Watcher {
	w := &Watcher{ch: make(chan store.Message, watcherBuffer), conversationID: conversationID}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.watchers[conversationID]
	if !ok {
		set = make(map[*Watcher]struct{})
		b.watchers[conversationID] = set
	}
	set[w] = struct{}{}
	return w
}

// Unwatch deregisters w and closes its channel. Safe to call more than
// once; safe to call concurrently with Publish.
func (b *Bus) Unwatch(w *Watcher) {
	b.mu.Lock()
	set, ok := b.watchers[w.conversationID]
	if ok {
		if _, present := set[w]; present {
			delete(set, w)
			if len(set) == 0 {
				delete(b.watchers, w.conversationID)
			}
			close(w.ch)
		}
	}
	b.mu.Unlock()
}

// Publish fans msg out to every Watcher registered for msg's
// conversation. Dispatch is non-blocking: a watcher whose buffer is
// full is skipped for this message rather than stalling the publish,
// and a per-watcher recover() means one bad watcher can never bring
// down a publish to the others.
func (b *Bus) Publish(msg store.Message) {
	b.mu.RLock()
	set := b.watchers[msg.ConversationID]
	targets := make([]*Watcher, 0, len(set))
	for w := range set {
		targets = append(targets, w)
	}
	b.mu.RUnlock()

	for _, w := range targets {
		dispatch(w, msg)
	}
}

// SubscriberCount reports how many watchers are currently registered
// for conversationID, for metrics/diagnostics.
func (b *Bus) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.watchers[conversationID])
}

func dispatch(w *Watcher, msg store.Message) {
	defer func() { _ = recover() }()
	select {
	case w.ch <- msg:
	default:
	}
}
