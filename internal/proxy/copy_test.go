package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestCopyBidirectional(t *testing.T) {
	clientOuter, clientInner := net.Pipe()
	upInner, upOuter := net.Pipe()
	defer clientOuter.Close()
	defer upOuter.Close()

	type result struct {
		sent, received int64
		err            error
	}
	done := make(chan result, 1)
	go func() {
		sent, received, err := CopyBidirectional(context.Background(), clientInner, upInner, 0)
		done <- result{sent, received, err}
	}()

	toUp := bytes.Repeat([]byte{'u'}, 100)
	toClient := bytes.Repeat([]byte{'c'}, 200)

	var g errgroup.Group
	g.Go(func() error {
		buf := make([]byte, len(toUp))
		if _, err := io.ReadFull(upOuter, buf); err != nil {
			return err
		}
		if !bytes.Equal(buf, toUp) {
			t.Errorf("upstream got %q", buf)
		}
		_, err := upOuter.Write(toClient)
		return err
	})

	if _, err := clientOuter.Write(toUp); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(toClient))
	if _, err := io.ReadFull(clientOuter, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, toClient) {
		t.Fatalf("client got %q", buf)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	// Closing the client side tears down the upstream side too.
	_ = clientOuter.Close()
	if _, err := upOuter.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected upstream to be closed")
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatal(r.err)
		}
		if r.sent != int64(len(toUp)) || r.received != int64(len(toClient)) {
			t.Fatalf("sent=%d received=%d", r.sent, r.received)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CopyBidirectional did not return")
	}
}

func TestCopyBidirectionalContextCancel(t *testing.T) {
	clientOuter, clientInner := net.Pipe()
	upInner, upOuter := net.Pipe()
	defer clientOuter.Close()
	defer upOuter.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := CopyBidirectional(ctx, clientInner, upInner, 0)
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("err=%v want %v", err, context.Canceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CopyBidirectional did not return")
	}
}

func TestCopyBidirectionalIdleTimeout(t *testing.T) {
	clientOuter, clientInner := net.Pipe()
	upInner, upOuter := net.Pipe()
	defer clientOuter.Close()
	defer upOuter.Close()

	done := make(chan error, 1)
	go func() {
		_, _, err := CopyBidirectional(context.Background(), clientInner, upInner, 50*time.Millisecond)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected idle timeout error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle relay was not closed")
	}
}
