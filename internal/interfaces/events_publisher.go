package interfaces

// EventPublisher is the port ledger events leave through.
type EventPublisher interface {
	Publish(topic string, event any) error
}
