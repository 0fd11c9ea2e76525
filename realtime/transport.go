package realtime

import "context"

// Message is one push received on a topic.
type Message struct {
	Topic string
	// ID is the broker-assigned message id, if any.
	ID   string
	Body []byte
}

// Handler is invoked once per inbound message, on its subscription's own
// goroutine.
type Handler func(Message)

// Transport establishes connections to the push broker.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live broker connection.
type Conn interface {
	Subscribe(topic string) (Stream, error)
	Send(ctx context.Context, destination string, body []byte) error
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
	Close() error
}

// Stream delivers the messages of one upstream subscription in broker
// order. Messages is closed after Unsubscribe or when the connection drops.
type Stream interface {
	Messages() <-chan Message
	Unsubscribe() error
}
