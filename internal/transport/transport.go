package transport

import "context"

// State is the connection lifecycle of a channel.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

type (
	MessageCallback func(payload string)
	StateCallback   func(state State)
)

// Channel is an ordered, reliable, bidirectional channel between
// exactly two endpoints. Ordered delivery is a hard precondition: the
// session layer adds no sequence numbers of its own.
//
// The host produces an offer package and the joiner consumes it and
// produces an answer; both packages are opaque blobs exchanged out of
// band (invite code, QR, copy/paste).
type Channel interface {
	Host(ctx context.Context) (offer string, err error)
	Join(ctx context.Context, offer string) (answer string, err error)
	Send(ctx context.Context, payload string) error
	OnMessage(cb MessageCallback) int
	OnStateChange(cb StateCallback) int
	Close(ctx context.Context) error
}
