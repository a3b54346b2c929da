package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBus_DeliversToTypedAndWildcard(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 16)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	var typed, all atomic.Int32
	bus.SubscribeFunc(PositionClosed, func(context.Context, Event) error {
		typed.Add(1)
		return nil
	})
	bus.SubscribeFunc(All, func(context.Context, Event) error {
		all.Add(1)
		return nil
	})

	require.NoError(t, bus.Publish(PositionClosedEvent{BaseEvent: NewBase(PositionClosed, time.Now()), Token: "T"}))
	require.NoError(t, bus.Publish(GateBlockedEvent{BaseEvent: NewBase(GateBlocked, time.Now())}))

	assert.Eventually(t, func() bool { return typed.Load() == 1 && all.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBus_UnsubscribeAndPanics(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	defer func() { _ = bus.Shutdown(context.Background()) }()

	var calls atomic.Int32
	sub := bus.SubscribeFunc(JobFinished, func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	bus.SubscribeFunc(JobFinished, func(context.Context, Event) error { panic("boom") })

	err := bus.PublishSync(context.Background(), JobFinishedEvent{BaseEvent: NewBase(JobFinished, time.Now())})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	sub.Unsubscribe()
	_ = bus.PublishSync(context.Background(), JobFinishedEvent{BaseEvent: NewBase(JobFinished, time.Now())})
	assert.Equal(t, int32(1), calls.Load())
}

func TestBus_ClosedRejectsPublish(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	require.NoError(t, bus.Shutdown(context.Background()))
	assert.ErrorIs(t, bus.Publish(JobFinishedEvent{BaseEvent: NewBase(JobFinished, time.Now())}), ErrBusClosed)
	assert.Equal(t, uint64(0), bus.Stats().Published)
}

func TestOnlyTypes(t *testing.T) {
	var got []EventType
	h := OnlyTypes(HandlerFunc(func(_ context.Context, e Event) error {
		got = append(got, e.Type())
		return nil
	}), PositionClosed)

	now := time.Now()
	require.NoError(t, h.Handle(context.Background(), PositionOpenedEvent{BaseEvent: NewBase(PositionOpened, now)}))
	require.NoError(t, h.Handle(context.Background(), PositionClosedEvent{BaseEvent: NewBase(PositionClosed, now)}))
	assert.Equal(t, []EventType{PositionClosed}, got)
}
