package gocnc

import (
	"context"
	"fmt"
	"sync"
)

type Subscriber struct {
	h         *handler
	types     map[EventType]struct{}
	eventChan chan Event
	closeOnce sync.Once
}

// Close stops delivery and closes the channel returned by Chan.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.h.unregisterSubscriber(s)
	})
}

func (s *Subscriber) Chan() <-chan Event {
	return s.eventChan
}

// Wait returns the next event.
func (s *Subscriber) Wait(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout: %w", ctx.Err())
	case e, ok := <-s.eventChan:
		if !ok {
			return nil, ErrSubscriberGone
		}
		return e, nil
	}
}

// WaitFor discards events until one of type t arrives.
func (s *Subscriber) WaitFor(ctx context.Context, t EventType) (Event, error) {
	for {
		e, err := s.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if e.Type() == t {
			return e, nil
		}
	}
}
