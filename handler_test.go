package gocnc

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSub(h *handler, size int, types ...EventType) *Subscriber {
	sub := &Subscriber{h: h, types: make(map[EventType]struct{}), eventChan: make(chan Event, size)}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}
	h.registerSubscriber(sub)
	return sub
}

func TestHandlerFanOut(t *testing.T) {
	h := newHandler(logrus.WithField("test", t.Name()))
	all := newTestSub(h, 8)
	boots := newTestSub(h, 8, EventTypeBoot)

	h.deliver(BootEvent{Banner: "Grbl 1.1h"})
	h.deliver(FeedChangeEvent{Feed: 100})

	assert.Len(t, all.Chan(), 2)
	assert.Len(t, boots.Chan(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := all.WaitFor(ctx, EventTypeFeedChange)
	require.NoError(t, err)
	assert.Equal(t, 100.0, e.(FeedChangeEvent).Feed)
}

func TestHandlerDropsWhenFull(t *testing.T) {
	h := newHandler(logrus.WithField("test", t.Name()))
	sub := newTestSub(h, 1)
	h.deliver(StreamStateEvent{State: StateStreaming})
	h.deliver(StreamStateEvent{State: StateComplete})
	assert.Equal(t, uint64(1), h.dropped.Load())
	e := <-sub.Chan()
	assert.Equal(t, StateStreaming, e.(StreamStateEvent).State)
}

func TestSubscriberClose(t *testing.T) {
	h := newHandler(logrus.WithField("test", t.Name()))
	sub := newTestSub(h, 4, EventTypeAlarm)
	sub.Close()
	sub.Close()
	h.deliver(AlarmEvent{Alarm: newAlarmError("1")})
	_, ok := <-sub.Chan()
	assert.False(t, ok)

	other := newTestSub(h, 4)
	h.Close()
	_, err := other.Wait(context.Background())
	assert.ErrorIs(t, err, ErrSubscriberGone)
	other.Close()

	late := newTestSub(h, 4)
	_, ok = <-late.Chan()
	assert.False(t, ok)
}

func TestSubscriberWaitTimeout(t *testing.T) {
	h := newHandler(logrus.WithField("test", t.Name()))
	sub := newTestSub(h, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sub.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
