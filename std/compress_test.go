package std

import (
	"bytes"
	"io"
	"net"
	"testing"
)

func TestCompStreamRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewCompStream(clientConn)
	server := NewCompStream(serverConn)

	payload := bytes.Repeat([]byte("hello compstream "), 50)
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Write(payload)
		errCh <- err
	}()

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, payload)
	}
}

func TestCompStreamRatioDefaultsToOne(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	cs := NewCompStream(clientConn)
	if r := cs.Ratio(); r != 1 {
		t.Fatalf("Ratio() before any write = %v, want 1", r)
	}
}

func TestCompStreamRatioReflectsCompression(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	client := NewCompStream(clientConn)
	payload := bytes.Repeat([]byte("a"), 4096)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			if _, err := serverConn.Read(buf); err != nil {
				return
			}
		}
	}()

	if _, err := client.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	clientConn.Close()
	serverConn.Close()
	<-done

	if r := client.Ratio(); r >= 1 {
		t.Fatalf("Ratio() = %v, want < 1 for highly compressible input", r)
	}
}
