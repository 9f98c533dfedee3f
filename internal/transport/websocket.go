package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport tunnels the same datagram frames PRD exchanges over raw
// UDP inside WebSocket binary messages, for peers reachable only
// through an HTTP-friendly path (e.g. behind a proxy that blocks bare
// UDP). Grounded on the teacher's WebSocket carrier
// (internal/transport/websocket.go), trimmed of its TLS-fronting and
// origin-spoofing "fake page" — those serve the teacher's censorship
// evasion, not an overlay node's peer connectivity.
type WSTransport struct {
	path string

	upgrader   websocket.Upgrader
	httpServer *http.Server

	mu       sync.Mutex
	sessions map[string]*wsSession

	inbox chan Datagram

	closeOnce sync.Once
	closed    chan struct{}
}

type wsSession struct {
	conn *websocket.Conn
	addr wsAddr
	mu   sync.Mutex
}

// wsAddr is a synthetic net.Addr identifying a WebSocket peer by its
// remote HTTP address, since gorilla/websocket connections aren't
// *net.UDPConn.
type wsAddr string

func (a wsAddr) Network() string { return "ws" }
func (a wsAddr) String() string  { return string(a) }

// NewWSTransport starts an HTTP server on addr that accepts WebSocket
// upgrades on path and treats each connection as a datagram peer.
func NewWSTransport(addr, path string) (*WSTransport, error) {
	t := &WSTransport{
		path:     path,
		sessions: make(map[string]*wsSession),
		inbox:    make(chan Datagram, 256),
		closed:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, t.handleUpgrade)
	t.httpServer = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: ws listen %q: %w", addr, err)
	}
	go func() {
		if err := t.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[transport] websocket server error: %v", err)
		}
	}()

	return t, nil
}

func (t *WSTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[transport] websocket upgrade failed: %v", err)
		return
	}

	sess := &wsSession{conn: conn, addr: wsAddr(r.RemoteAddr)}
	t.mu.Lock()
	t.sessions[string(sess.addr)] = sess
	t.mu.Unlock()

	go t.readSession(sess)
}

func (t *WSTransport) readSession(sess *wsSession) {
	defer func() {
		t.mu.Lock()
		delete(t.sessions, string(sess.addr))
		t.mu.Unlock()
		sess.conn.Close()
	}()

	for {
		_ = sess.conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case t.inbox <- Datagram{From: sess.addr, Payload: data}:
		case <-t.closed:
			return
		}
	}
}

// SendTo implements Transport. addr must be one previously seen via
// Recv, or a synthetic wsAddr obtained by dialing out first.
func (t *WSTransport) SendTo(ctx context.Context, addr net.Addr, payload []byte) error {
	t.mu.Lock()
	sess, ok := t.sessions[addr.String()]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no websocket session for %s", addr.String())
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = sess.conn.SetWriteDeadline(dl)
	} else {
		_ = sess.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	}
	return sess.conn.WriteMessage(websocket.BinaryMessage, payload)
}

// Recv implements Transport.
func (t *WSTransport) Recv(ctx context.Context) (Datagram, error) {
	select {
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	case d := <-t.inbox:
		return d, nil
	case <-t.closed:
		return Datagram{}, fmt.Errorf("transport: websocket carrier closed")
	}
}

// LocalAddr implements Transport.
func (t *WSTransport) LocalAddr() net.Addr {
	return wsAddr(t.httpServer.Addr)
}

// Close implements Transport.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })

	t.mu.Lock()
	for _, sess := range t.sessions {
		sess.conn.Close()
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.httpServer.Shutdown(ctx)
}

// DialWS opens an outbound WebSocket connection to a peer's carrier
// endpoint and registers it as a session so SendTo/Recv work
// symmetrically for the dialing side.
func (t *WSTransport) DialWS(url string) (net.Addr, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: ws dial %q: %w", url, err)
	}
	sess := &wsSession{conn: conn, addr: wsAddr(url)}
	t.mu.Lock()
	t.sessions[string(sess.addr)] = sess
	t.mu.Unlock()
	go t.readSession(sess)
	return sess.addr, nil
}
