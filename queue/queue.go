// Package queue declares the message transport contracts between the
// dispatch pipeline and the channel workers.
package queue

import (
	"context"
	"time"
)

// Publisher pushes serialized payloads onto the transport
type Publisher interface {
	// Publish sends body on the immediate exchange tagged with messageType
	Publish(ctx context.Context, body []byte, messageType string) error

	// PublishDelay sends body on the delay exchange so it is redelivered to
	// the reconciler after ttl.
	PublishDelay(ctx context.Context, body []byte, ttl time.Duration) error
}

// Delivery is one message received from the transport
type Delivery struct {
	Body        []byte
	MessageType string
}

// HandlerFunc consumes one delivery. Returning an error requeues the
// delivery once; a second failure drops it.
type HandlerFunc func(ctx context.Context, d Delivery) error

// Consumer drives deliveries from the transport into a HandlerFunc
type Consumer interface {
	// Consume blocks until ctx is cancelled or the connection drops
	Consume(ctx context.Context, handler HandlerFunc) error
}
