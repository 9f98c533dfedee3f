package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"golang.org/x/sync/singleflight"
)

// udpReadBufferSize is generous enough for a splitfile block fragment
// plus PRD control overhead; oversized datagrams are truncated by the
// kernel, which callers observe as a short read.
const udpReadBufferSize = 65535

// UDPTransport is the default Transport, a thin reliability-free
// wrapper around *net.UDPConn. Grounded on the teacher's UDP server
// (internal/transport/udp.go) but stripped of its fragmentation,
// worker-pool and congestion-pacing machinery — those belong to a
// different domain (a censorship-resistant proxy) than an overlay
// node's per-peer reliability layer, which already gets its own
// window and backoff from the session package.
type UDPTransport struct {
	conn *net.UDPConn

	// dialGroup deduplicates concurrent attempts to resolve/dial the
	// same address, adapted from the teacher's use of
	// golang.org/x/sync/singleflight for ARQ connection setup
	// (internal/transport/udp.go's connectGroup).
	dialGroup singleflight.Group
}

// NewUDPTransport binds a UDP socket at addr ("host:port", or ":0" for
// an ephemeral client port).
func NewUDPTransport(addr string) (*UDPTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", addr, err)
	}
	return &UDPTransport{conn: conn}, nil
}

// SendTo implements Transport.
func (t *UDPTransport) SendTo(ctx context.Context, addr net.Addr, payload []byte) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err, _ := t.dialGroup.Do(addr.String(), func() (interface{}, error) {
			return net.ResolveUDPAddr("udp", addr.String())
		})
		if err != nil {
			return fmt.Errorf("transport: resolve %q: %w", addr.String(), err)
		}
		udpAddr = resolved.(*net.UDPAddr)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}
	_, err := t.conn.WriteToUDP(payload, udpAddr)
	if err != nil {
		return fmt.Errorf("transport: write to %s: %w", udpAddr, err)
	}
	return nil
}

// Recv implements Transport. It polls with a short read deadline so ctx
// cancellation is observed promptly, matching the teacher's readLoop
// pattern (internal/transport/udp.go) without its worker fan-out.
func (t *UDPTransport) Recv(ctx context.Context) (Datagram, error) {
	buf := make([]byte, udpReadBufferSize)
	for {
		select {
		case <-ctx.Done():
			return Datagram{}, ctx.Err()
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return Datagram{}, fmt.Errorf("transport: read: %w", err)
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		return Datagram{From: from, Payload: payload}, nil
	}
}

// LocalAddr implements Transport.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close implements Transport.
func (t *UDPTransport) Close() error {
	log.Printf("[transport] closing udp socket %s", t.conn.LocalAddr())
	return t.conn.Close()
}
