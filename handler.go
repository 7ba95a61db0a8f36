package gocnc

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// handler takes care of fanning out events to any subs
type handler struct {
	closeOnce sync.Once
	closed    bool

	typemap    map[EventType]map[*Subscriber]struct{}
	globalSubs []*Subscriber
	dropped    atomic.Uint64

	log *logrus.Entry
	mu  sync.RWMutex
}

func newHandler(log *logrus.Entry) *handler {
	return &handler{
		typemap:    make(map[EventType]map[*Subscriber]struct{}),
		globalSubs: make([]*Subscriber, 0, 8),
		log:        log,
	}
}

func (h *handler) registerSubscriber(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.eventChan)
		return
	}
	if len(sub.types) == 0 {
		h.globalSubs = append(h.globalSubs, sub)
		return
	}
	for t := range sub.types {
		if _, ok := h.typemap[t]; !ok {
			h.typemap[t] = make(map[*Subscriber]struct{})
		}
		h.typemap[t][sub] = struct{}{}
	}
}

func (h *handler) unregisterSubscriber(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if len(sub.types) == 0 {
		for i, s := range h.globalSubs {
			if s == sub {
				h.globalSubs = append(h.globalSubs[:i], h.globalSubs[i+1:]...)
				break
			}
		}
		close(sub.eventChan)
		return
	}
	for t := range sub.types {
		if subs, ok := h.typemap[t]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.typemap, t)
			}
		}
	}
	close(sub.eventChan)
}

// NOTE: We send while holding RLock on h.mu. unregisterSubscriber acquires the write lock
// and closes sub.eventChan. Holding RLock guarantees the channel won't be closed
// mid-send.
func (h *handler) deliver(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.globalSubs {
		h.send(sub, e)
	}
	for sub := range h.typemap[e.Type()] {
		h.send(sub, e)
	}
}

func (h *handler) send(sub *Subscriber, e Event) {
	select {
	case sub.eventChan <- e:
	default:
		h.dropped.Add(1)
		h.log.Warnf("subscriber full, dropped %s event", e.Type())
	}
}

// Close closes every subscriber channel, ending any range over Chan().
func (h *handler) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed = true
		for _, sub := range h.globalSubs {
			close(sub.eventChan)
		}
		seen := make(map[*Subscriber]struct{})
		for _, subs := range h.typemap {
			for sub := range subs {
				if _, ok := seen[sub]; ok {
					continue
				}
				seen[sub] = struct{}{}
				close(sub.eventChan)
			}
		}
		h.globalSubs = nil
		h.typemap = nil
	})
}
