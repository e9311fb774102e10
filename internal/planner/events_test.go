package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelEventEmitter_DeliversToAllSubscribers(t *testing.T) {
	emitter := NewChannelEventEmitter()
	defer emitter.Close()

	ctx := context.Background()
	a, cancelA := emitter.Subscribe(ctx)
	defer cancelA()
	b, cancelB := emitter.Subscribe(ctx)
	defer cancelB()

	require.NoError(t, emitter.Emit(ctx, Event{Type: EventPlanGenerated}))

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventPlanGenerated, ev.Type)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s did not receive the event", name)
		}
	}
}

func TestChannelEventEmitter_DropsWhenBufferFull(t *testing.T) {
	emitter := NewChannelEventEmitter(WithBufferSize(1))
	defer emitter.Close()

	ctx := context.Background()
	ch, cancel := emitter.Subscribe(ctx)
	defer cancel()

	// The second emit would block a synchronous consumer; it must be
	// dropped instead.
	require.NoError(t, emitter.Emit(ctx, Event{Type: EventPlanGenerated}))
	require.NoError(t, emitter.Emit(ctx, Event{Type: EventPatternReused}))

	ev := <-ch
	assert.Equal(t, EventPlanGenerated, ev.Type)

	select {
	case extra, open := <-ch:
		if open {
			t.Fatalf("expected dropped event, received %v", extra.Type)
		}
	default:
	}
}

func TestChannelEventEmitter_UnsubscribeStopsDelivery(t *testing.T) {
	emitter := NewChannelEventEmitter()
	defer emitter.Close()

	ctx := context.Background()
	ch, cancel := emitter.Subscribe(ctx)
	cancel()

	require.NoError(t, emitter.Emit(ctx, Event{Type: EventPlanGenerated}))

	_, open := <-ch
	assert.False(t, open)
}

func TestChannelEventEmitter_EmitAfterClose(t *testing.T) {
	emitter := NewChannelEventEmitter()
	require.NoError(t, emitter.Close())

	err := emitter.Emit(context.Background(), Event{Type: EventPlanGenerated})
	assert.Error(t, err)

	// Subscribing after close yields a closed channel, not a hang.
	ch, cancel := emitter.Subscribe(context.Background())
	defer cancel()
	_, open := <-ch
	assert.False(t, open)
}
