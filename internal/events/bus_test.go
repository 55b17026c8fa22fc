package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

type recordingPublisher struct {
	events []types.Event
	err    error
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, ev types.Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingPublisher) Close() error {
	r.closed = true
	return r.err
}

func TestEmitter_StampsEvents(t *testing.T) {
	rec := &recordingPublisher{}
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	e := NewEmitter(rec, func() time.Time { return now }, nil)

	e.Emit(context.Background(), types.EventMetricRegistered, map[string]string{"id": "cpu"})

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, types.EventMetricRegistered, ev.Type)
	assert.Equal(t, now, ev.Timestamp)
}

func TestEmitter_SwallowsErrorsAndNil(t *testing.T) {
	rec := &recordingPublisher{err: errors.New("bus down")}
	e := NewEmitter(rec, nil, nil)
	assert.NotPanics(t, func() { e.Emit(context.Background(), types.EventAlertTriggered, nil) })

	var nilEmitter *Emitter
	assert.NotPanics(t, func() { nilEmitter.Emit(context.Background(), types.EventAlertTriggered, nil) })
}

func TestMulti(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{err: errors.New("boom")}
	m := Multi{a, b}

	err := m.Publish(context.Background(), types.Event{Type: types.EventInsightGenerated})
	assert.Error(t, err)
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)

	assert.Error(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestMemoryBus_FanOutAndDrop(t *testing.T) {
	bus := NewMemoryBus()
	ch1, cancel1 := bus.Subscribe(1)
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, types.Event{ID: "1"}))
	require.NoError(t, bus.Publish(ctx, types.Event{ID: "2"})) // dropped for ch1

	assert.Equal(t, "1", (<-ch1).ID)
	select {
	case ev := <-ch1:
		t.Fatalf("unexpected event %s", ev.ID)
	default:
	}
	assert.Equal(t, "1", (<-ch2).ID)
	assert.Equal(t, "2", (<-ch2).ID)

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, bus.Subscribers())

	require.NoError(t, bus.Close())
	_, open = <-ch2
	assert.False(t, open)

	late, _ := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}
