package queue

import "context"

// Queue names. Dispatch requests go through a single durable work queue; a
// message that keeps failing ends up on the dead-letter queue for operator
// inspection.
const (
	DispatchQueue    = "custody.dispatch"
	DispatchDLQ      = "dlq.custody.dispatch"
	dlxExchangeName  = "custody.dlx"
	dispatchRouteKey = "dispatch"
)

// Publisher publishes dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}
