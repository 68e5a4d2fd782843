// Package transport defines the boundary between the agent runtime
// and whatever channel carries ARI traffic to and from a manager (spec
// §6). Concrete adapters live in subpackages, e.g. transport/socket.
package transport

import "context"

// Frame is one unit of transport traffic: the peer the frame came
// from (or should go to) and the ARI payload it carries, already
// decoded/awaiting encoding at the aricbor layer (spec §3 "Frame").
//
// Payload is left as raw bytes here rather than []ari.Value so this
// package has no dependency on the ari/aricbor codec choice a given
// adapter makes; callers decode/encode at the Transport boundary.
type Frame struct {
	Peer    string
	Payload []byte
}

// Transport is implemented by every concrete channel adapter (spec §6
// "Transport"): Send ships one outbound frame, Recv blocks for the
// next inbound one. Both must be safe to cancel via ctx and safe to
// call concurrently with each other (but not with themselves).
type Transport interface {
	Send(ctx context.Context, f Frame) error
	Recv(ctx context.Context) (Frame, error)
	Close() error
}
