package broadcast_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xreal-go/glasses/internal/broadcast"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	b := broadcast.New[int]()
	_, chA := b.Subscribe(4)
	_, chB := b.Subscribe(4)

	b.Publish(42)

	require.Equal(t, 42, <-chA)
	require.Equal(t, 42, <-chB)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := broadcast.New[string]()
	id, ch := b.Subscribe(4)
	b.Unsubscribe(id)

	b.Publish("hello")

	_, ok := <-ch
	require.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := broadcast.New[int]()
	_, ch := b.Subscribe(1)

	b.Publish(1)
	b.Publish(2) // dropped: buffer of 1 already holds the first value

	select {
	case v := <-ch:
		require.Equal(t, 1, v)
	case <-time.After(time.Second):
		t.Fatal("expected a value")
	}
	select {
	case v, ok := <-ch:
		t.Fatalf("unexpected second value %v (ok=%v)", v, ok)
	default:
	}
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := broadcast.New[int]()
	_, ch1 := b.Subscribe(1)
	_, ch2 := b.Subscribe(1)

	b.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	require.False(t, ok1)
	require.False(t, ok2)
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := broadcast.New[int]()
	b.Close()
	require.NotPanics(t, func() { b.Publish(1) })
}
