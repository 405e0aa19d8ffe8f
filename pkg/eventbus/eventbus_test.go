package eventbus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(zerolog.Nop(), 4)
	stream, unsubscribe := b.Subscribe("new_message")
	defer unsubscribe()

	b.Publish("new_message", 42, "hello")

	select {
	case ev := <-stream:
		assert.Equal(t, "new_message", ev.Topic)
		assert.Equal(t, int64(42), ev.DialogID)
		assert.Equal(t, "hello", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishReachesPerDialogSpecialization(t *testing.T) {
	b := New(zerolog.Nop(), 4)
	global, unsubGlobal := b.Subscribe("new_message")
	defer unsubGlobal()
	dialogOnly, unsubDialog := b.Subscribe(b.DialogChannel("new_message", 7))
	defer unsubDialog()

	b.Publish("new_message", 7, "payload")

	for _, stream := range []<-chan Event{global, dialogOnly} {
		select {
		case ev := <-stream:
			assert.Equal(t, int64(7), ev.DialogID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestPublishDoesNotReachOtherDialogSpecialization(t *testing.T) {
	b := New(zerolog.Nop(), 4)
	stream, unsubscribe := b.Subscribe(b.DialogChannel("new_message", 7))
	defer unsubscribe()

	b.Publish("new_message", 8, "payload")

	select {
	case ev := <-stream:
		t.Fatalf("unexpected event delivered to unrelated dialog channel: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOldestBackpressureKeepsNewestEvent(t *testing.T) {
	b := New(zerolog.Nop(), 1)
	stream, unsubscribe := b.Subscribe("new_detection")
	defer unsubscribe()

	b.Publish("new_detection", 0, "first")
	b.Publish("new_detection", 0, "second")

	select {
	case ev := <-stream:
		assert.Equal(t, "second", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBlockBackpressureWaitsForBufferSpace(t *testing.T) {
	b := New(zerolog.Nop(), 1)
	stream, unsubscribe := b.Subscribe("backfill_progress")
	defer unsubscribe()

	b.Publish("backfill_progress", 1, "first")

	done := make(chan struct{})
	go func() {
		b.Publish("backfill_progress", 1, "second")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("blocking publish should not return before the buffer drains")
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, "first", (<-stream).Payload)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocking publish did not unblock after buffer drained")
	}
	assert.Equal(t, "second", (<-stream).Payload)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(zerolog.Nop(), 4)
	stream, unsubscribe := b.Subscribe("new_message")
	unsubscribe()

	b.Publish("new_message", 0, "should not arrive")

	_, ok := <-stream
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(zerolog.Nop(), 4)
	_, unsubscribe := b.Subscribe("new_message")
	unsubscribe()
	assert.NotPanics(t, unsubscribe)
}
