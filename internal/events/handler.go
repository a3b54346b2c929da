// internal/events/handler.go
package events

import (
	"context"
)

// Handler reacts to published events. Handlers run on the bus goroutine and
// must not block for long.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f(ctx, event).
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// OnlyTypes wraps h so that it ignores every event type not listed. Useful for
// sinks subscribed to All that only care about a few kinds.
func OnlyTypes(h Handler, types ...EventType) Handler {
	allowed := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return HandlerFunc(func(ctx context.Context, event Event) error {
		if _, ok := allowed[event.Type()]; !ok {
			return nil
		}
		return h.Handle(ctx, event)
	})
}

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	id       string
	eventBus *Bus
	typ      EventType
}

func (s *subscription) Unsubscribe() {
	s.eventBus.unsubscribe(s.id, s.typ)
}
