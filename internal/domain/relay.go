package domain

// Publisher accepts wire-formatted messages for fan-out to every connection.
// Implementations must not block on slow consumers.
type Publisher interface {
	Publish(msg string) error
}
