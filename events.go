package upload

import (
	"sync"

	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

type subscription struct {
	handler uploadtypes.EventHandler
}

// emitter is a registry of event handlers.
type emitter struct {
	mu       sync.RWMutex
	handlers map[uploadtypes.EventType][]*subscription
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[uploadtypes.EventType][]*subscription)}
}

func (e *emitter) on(t uploadtypes.EventType, h uploadtypes.EventHandler) func() {
	sub := &subscription{handler: h}

	e.mu.Lock()
	e.handlers[t] = append(e.handlers[t], sub)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			subs := e.handlers[t]
			for i, s := range subs {
				if s == sub {
					e.handlers[t] = append(subs[:i:i], subs[i+1:]...)
					return
				}
			}
		})
	}
}

// emit calls the handlers of the event type in subscription order.
func (e *emitter) emit(ev uploadtypes.Event) {
	e.mu.RLock()
	subs := append([]*subscription(nil), e.handlers[ev.Type]...)
	e.mu.RUnlock()

	for _, s := range subs {
		s.handler(ev)
	}
}
