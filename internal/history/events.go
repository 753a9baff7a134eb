package history

import (
	"time"

	"github.com/ashureev/crmchat/internal/domain"
)

// EventKind names a registry mutation.
type EventKind string

const (
	EventSessionCreated EventKind = "session.created"
	EventSessionUpdated EventKind = "session.updated"
	EventSessionDeleted EventKind = "session.deleted"
	EventMessageAdded   EventKind = "message.added"
	EventCurrentChanged EventKind = "session.current"
	EventUserChanged    EventKind = "user.changed"
)

// Event describes one committed mutation of a namespace.
type Event struct {
	Kind        EventKind          `json:"kind"`
	Namespace   string             `json:"-"`
	SessionID   string             `json:"session_id,omitempty"`
	MessageType domain.MessageType `json:"message_type,omitempty"`
	At          time.Time          `json:"at"`
}

// Observer receives events after they are committed to the store.
// Publish is called with the registry lock held and must not block
// or call back into the registry.
type Observer interface {
	Publish(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Publish implements Observer.
func (f ObserverFunc) Publish(e Event) { f(e) }

// Observers fans an event out to several observers in order.
type Observers []Observer

// Publish implements Observer.
func (o Observers) Publish(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Publish(e)
		}
	}
}
