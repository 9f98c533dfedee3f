// Package transport supplies the datagram carriers PRD sends and
// receives over. Datagram socket I/O is treated as an external
// collaborator ("interfaces only"); this package is that interface
// plus the concrete adapters SPEC_FULL wires in so the rest of the
// module has something real to run against.
package transport

import (
	"context"
	"net"
)

// Datagram is one inbound packet: its source address and payload.
type Datagram struct {
	From    net.Addr
	Payload []byte
}

// Transport is the narrow send/receive contract PRD's session layer
// consumes. Sequence numbers are carried inside Payload by the caller
// (the wire codec is a session-layer concern, not transport's).
type Transport interface {
	// SendTo writes payload to addr. May block briefly under transport
	// backpressure; must not silently drop.
	SendTo(ctx context.Context, addr net.Addr, payload []byte) error

	// Recv blocks until a datagram arrives or ctx is done.
	Recv(ctx context.Context) (Datagram, error)

	// LocalAddr reports the transport's own bound address, if any.
	LocalAddr() net.Addr

	// Close releases the underlying carrier.
	Close() error
}
