package transport

import (
	"context"
	"testing"
	"time"
)

func TestUDPTransportRoundTrip(t *testing.T) {
	server, err := NewUDPTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPTransport(server): %v", err)
	}
	defer server.Close()

	client, err := NewUDPTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPTransport(client): %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := []byte("hello overlay")
	if err := client.SendTo(ctx, server.LocalAddr(), payload); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	dg, err := server.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(dg.Payload) != string(payload) {
		t.Fatalf("got payload %q, want %q", dg.Payload, payload)
	}
}

func TestUDPTransportRecvHonorsCancellation(t *testing.T) {
	tr, err := NewUDPTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPTransport: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tr.Recv(ctx)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not observe cancellation")
	}
}
