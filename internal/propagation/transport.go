package propagation

import "context"

// Transport carries events beyond the process boundary: a websocket hub,
// an SNS topic, or a Kafka topic. Absence or failure of the transport only
// degrades real-time refresh; it never fails a mutation.
type Transport interface {
	// Publish forwards one event. Implementations must tolerate being
	// called from a single goroutine in commit order.
	Publish(ctx context.Context, ev Event) error

	// Healthy reports whether the transport delivered recently without
	// error.
	Healthy() bool

	Close() error
}
