package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agorai/agorai/internal/store"
)

func TestPublishFansOutToAllWatchersOfAConversation(t *testing.T) {
	b := New()
	w1 := b.Watch("c1")
	w2 := b.Watch("c1")
	other := b.Watch("c2")
	defer b.Unwatch(w1)
	defer b.Unwatch(w2)
	defer b.Unwatch(other)

	b.Publish(store.Message{ID: "m1", ConversationID: "c1"})

	select {
	case m := <-w1.C():
		require.Equal(t, "m1", m.ID)
	case <-time.After(time.Second):
		t.Fatal("w1 did not receive the published message")
	}
	select {
	case m := <-w2.C():
		require.Equal(t, "m1", m.ID)
	case <-time.After(time.Second):
		t.Fatal("w2 did not receive the published message")
	}
	select {
	case <-other.C():
		t.Fatal("watcher on a different conversation must not receive the event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestPublishDropsOnFullBufferWithoutBlocking(t *testing.T) {
	b := New()
	w := b.Watch("c1")
	defer b.Unwatch(w)

	done := make(chan struct{})
	go func() {
		for i := 0; i < watcherBuffer+10; i++ {
			b.Publish(store.Message{ID: "m", ConversationID: "c1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked instead of dropping for a full watcher buffer")
	}
}

func TestUnwatchClosesChannelAndRemovesRegistration(t *testing.T) {
	b := New()
	w := b.Watch("c1")
	require.Equal(t, 1, b.SubscriberCount("c1"))

	b.Unwatch(w)
	require.Equal(t, 0, b.SubscriberCount("c1"))

	_, ok := <-w.C()
	require.False(t, ok, "channel must be closed after Unwatch")

	// Publishing after Unwatch must not panic even though the watcher
	// is gone.
	require.NotPanics(t, func() {
		b.Publish(store.Message{ID: "m", ConversationID: "c1"})
	})
}
