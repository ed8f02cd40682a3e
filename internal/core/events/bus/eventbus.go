package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Subscription is a registered handler. Cancel is safe to call repeatedly.
type Subscription struct {
	id      string
	topic   string
	kind    Kind
	handler Handler
	active  atomic.Bool
	cancel  func()
}

func (s *Subscription) ID() string    { return s.id }
func (s *Subscription) Topic() string { return s.topic }
func (s *Subscription) Kind() Kind    { return s.kind }
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// Cancel de-registers the handler from its bus.
func (s *Subscription) Cancel() {
	if s.active.CompareAndSwap(true, false) && s.cancel != nil {
		s.cancel()
	}
}

// Bus is a thread-safe, synchronous, in-process event bus. Handlers are
// called in the publisher's goroutine, outside of the bus lock, so they may
// subscribe or publish themselves.
type Bus struct {
	mu sync.RWMutex
	// topic -> kind -> subscription id -> subscription
	handlers map[string]map[Kind]map[string]*Subscription
	subs     int

	published atomic.Uint64
	delivered atomic.Uint64
	errs      atomic.Uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[string]map[Kind]map[string]*Subscription),
	}
}

// Subscribe registers a handler for kind on the default topic.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	return b.SubscribeTopic("", kind, handler)
}

// SubscribeTopic registers a handler for kind within topic. Use Any to
// receive every kind published on the topic.
func (b *Bus) SubscribeTopic(topic string, kind Kind, handler Handler) *Subscription {
	s := &Subscription{
		id:      uuid.NewString(),
		topic:   topic,
		kind:    kind,
		handler: handler,
	}
	s.active.Store(true)
	s.cancel = func() { b.remove(s) }

	b.mu.Lock()
	defer b.mu.Unlock()

	byKind := b.handlers[topic]
	if byKind == nil {
		byKind = make(map[Kind]map[string]*Subscription)
		b.handlers[topic] = byKind
	}
	if byKind[kind] == nil {
		byKind[kind] = make(map[string]*Subscription)
	}
	byKind[kind][s.id] = s
	b.subs++
	return s
}

// Unsubscribe cancels the subscription. A nil subscription is ignored.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	s.Cancel()
}

// HasSubscribers reports whether anything listens on topic.
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, m := range b.handlers[topic] {
		if len(m) > 0 {
			return true
		}
	}
	return false
}

// Publish delivers the event to the handlers of its kind and to Any handlers
// on the event topic. A zero timestamp is filled in.
func (b *Bus) Publish(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	var subs []*Subscription
	if byKind := b.handlers[event.Topic]; byKind != nil {
		subs = make([]*Subscription, 0, len(byKind[event.Kind])+len(byKind[Any]))
		for _, s := range byKind[event.Kind] {
			subs = append(subs, s)
		}
		if event.Kind != Any {
			for _, s := range byKind[Any] {
				subs = append(subs, s)
			}
		}
	}
	b.mu.RUnlock()

	var all error
	for _, s := range subs {
		if !s.IsActive() {
			continue
		}
		b.delivered.Add(1)
		if err := s.handler(event); err != nil {
			b.errs.Add(1)
			all = errors.Join(all, err)
		}
	}
	return all
}

// Metrics returns a snapshot of the delivery counters.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	return Metrics{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Errors:        b.errs.Load(),
		Subscriptions: uint64(subs),
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byKind := b.handlers[s.topic]
	if byKind == nil {
		return
	}
	if m := byKind[s.kind]; m != nil {
		if _, ok := m[s.id]; ok {
			delete(m, s.id)
			b.subs--
		}
		if len(m) == 0 {
			delete(byKind, s.kind)
		}
	}
	if len(byKind) == 0 {
		delete(b.handlers, s.topic)
	}
}
