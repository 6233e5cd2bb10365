package events

// Publisher delivers call events to interested observers.
// Publish must not block; the engine calls it from its event path.
type Publisher interface {
	Publish(Event)
}

// NoopPublisher discards all events.
type NoopPublisher struct{}

// NewNoopPublisher returns a publisher that discards everything.
func NewNoopPublisher() Publisher {
	return NoopPublisher{}
}

// Publish implements Publisher.
func (NoopPublisher) Publish(Event) {}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(Event)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ev Event) {
	f(ev)
}
