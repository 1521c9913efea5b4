package transport

import (
	"context"
	"testing"
	"time"
)

func TestPipeSendRecvRoundTrip(t *testing.T) {
	t0, t1, cleanup := NewPipePair()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := t0.Send(ctx, t0.LocalAddr(), []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	dg, err := t1.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(dg.Data) != "hello" {
		t.Fatalf("got %q, want %q", dg.Data, "hello")
	}
}

func TestPipeRecvRespectsContextTimeout(t *testing.T) {
	_, t1, cleanup := NewPipePair()
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := t1.Recv(ctx); err == nil {
		t.Fatalf("expected timeout error, got nil")
	}
}
