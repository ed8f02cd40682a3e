package bus

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the routing key of an Event.
type Kind string

// Lifecycle kinds published by entity and attribute containers.
const (
	EntityCreated     Kind = "entity.created"
	EntityKilled      Kind = "entity.killed"
	EntityReceived    Kind = "entity.received"
	EntityTransferred Kind = "entity.transferred"

	AttributeAdded   Kind = "attribute.added"
	AttributeChanged Kind = "attribute.changed"
	AttributeRemoved Kind = "attribute.removed"

	// Any subscribes a handler to every kind published on a topic.
	Any Kind = "*"
)

// Event is an immutable notification delivered by the Bus.
//
// Fields:
//   - Kind: routing key used to select handlers.
//   - Topic: scope of the event; "" is the default topic. Attribute events are
//     published on the topic named after their attribute type.
//   - Entity: the entity the event is about.
//   - Source / Destination: owning container identifiers. Destination is only
//     set for transfers.
//   - Previous / Value: attribute values before and after the change.
type Event struct {
	Kind        Kind
	Topic       string
	Entity      uuid.UUID
	Source      uuid.UUID
	Destination uuid.UUID
	Previous    any
	Value       any
	Timestamp   time.Time
}

// Handler is invoked for every delivered event. Returned errors are joined
// and handed back to the publisher.
type Handler func(Event) error

// Metrics is a snapshot of delivery counters.
type Metrics struct {
	Published     uint64
	Delivered     uint64
	Errors        uint64
	Subscriptions uint64
}
