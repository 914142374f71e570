package session

import (
	"sync"

	"github.com/agorai/agorai/internal/eventbus"
	"github.com/agorai/agorai/internal/store"
)

// streamer fans the Event Bus watchers for a session's subscribed
// conversations into one ordered output channel, so the GET /mcp
// handler has a single channel to select on regardless of how many
// conversations the agent is subscribed to.
type streamer struct {
	bus      *eventbus.Bus
	watchers []*eventbus.Watcher
	out      chan store.Message
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newStreamer(bus *eventbus.Bus, conversationIDs []string) *streamer {
	st := &streamer{bus: bus, out: make(chan store.Message, 32), stopCh: make(chan struct{})}
	for _, cid := range conversationIDs {
		w := bus.Watch(cid)
		st.watchers = append(st.watchers, w)
		st.wg.Add(1)
		go st.pump(w)
	}
	return st
}

func (st *streamer) pump(w *eventbus.Watcher) {
	defer st.wg.Done()
	for {
		select {
		case msg, ok := <-w.C():
			if !ok {
				return
			}
			select {
			case st.out <- msg:
			case <-st.stopCh:
				return
			}
		case <-st.stopCh:
			return
		}
	}
}

// stop unregisters every watcher and closes stopCh; it does not close
// out, since a pump goroutine may still be mid-send — callers simply
// stop reading from out once stop() returns.
func (st *streamer) stop() {
	st.stopOnce.Do(func() {
		close(st.stopCh)
		for _, w := range st.watchers {
			st.bus.Unwatch(w)
		}
	})
}
