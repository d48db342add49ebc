package nonblock

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// echoHandler writes every message back and records the connections it saw.
type echoHandler struct {
	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func newEchoHandler() *echoHandler {
	return &echoHandler{conns: make(map[*Conn]struct{})}
}

func (h *echoHandler) ServeMessage(conn *Conn, message *Message) error {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	return conn.Write(message)
}

func (h *echoHandler) seen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	opts = append([]ServerOption{
		ServerLoggerOption(discardLogger),
		ServerConnOption(HeartbeatOption(10*time.Millisecond), LoggerOption(discardLogger)),
	}, opts...)
	server, err := New(addr, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return server
}

func serve(ctx context.Context, server *Server, handler Handler) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()
	return done
}

func TestNew_InvalidAddr(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	// Binding the same port again fails.
	_, err := New(server.Addr().(*net.TCPAddr))
	if err == nil {
		t.Error("expected error binding an address in use")
	}
}

func TestServer_Addr(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	if server.Addr() == nil {
		t.Error("Addr returned nil")
	}
	if server.Addr().(*net.TCPAddr).Port == 0 {
		t.Error("Addr did not report the bound port")
	}
}

func TestServer_Serve(t *testing.T) {
	server := newTestServer(t)
	handler := newEchoHandler()
	ctx, cancel := context.WithCancel(context.Background())

	done := serve(ctx, server, handler)

	clientConn, err := net.DialTCP("tcp", nil, server.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()
	_ = clientConn.SetDeadline(time.Now().Add(5 * time.Second))

	_, msg := twoSegmentFrame()
	if err = WriteMessage(clientConn, msg); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	got, err := ReadMessage(clientConn)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if got.FrameSize() != msg.FrameSize() {
		t.Errorf("echo frame size = %d, want %d", got.FrameSize(), msg.FrameSize())
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}

	if n := server.Connections(); n != 0 {
		t.Errorf("Connections = %d after shutdown, want 0", n)
	}
}

func TestServer_Serve_MultipleConnections(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()
	handler := newEchoHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := serve(ctx, server, handler)

	const numClients = 5
	var wg sync.WaitGroup
	errs := make(chan error, numClients)
	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", server.Addr().String())
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

			seg := make([]byte, 8*(i+1))
			seg[0] = byte(i)
			msg, _ := NewMessage(seg)
			if err = WriteMessage(conn, msg); err != nil {
				errs <- err
				return
			}
			got, err := ReadMessage(conn)
			if err != nil {
				errs <- err
				return
			}
			if got.Segment(0)[0] != byte(i) || got.Size() != len(seg) {
				errs <- fmt.Errorf("client %d: wrong echo %v", i, got.Segments())
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("client failed: %v", err)
	}

	if n := handler.seen(); n != numClients {
		t.Errorf("handler saw %d connections, want %d", n, numClients)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_Close(t *testing.T) {
	server := newTestServer(t, ServerShutdownTimeoutOption(time.Minute))
	done := serve(context.Background(), server, newEchoHandler())

	clientConn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()

	time.Sleep(50 * time.Millisecond)
	if err = server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Close bypasses the graceful shutdown timeout.
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error after Close, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_GracefulShutdown(t *testing.T) {
	server := newTestServer(t, ServerShutdownTimeoutOption(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, server, newEchoHandler())

	clientConn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer clientConn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for server.Connections() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if server.Connections() != 1 {
		t.Fatalf("Connections = %d, want 1", server.Connections())
	}

	start := time.Now()
	cancel()

	select {
	case <-done:
		// The idle client keeps its connection open, so shutdown waits for
		// the timeout before closing it.
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Errorf("Serve returned after %v, before the shutdown timeout", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}
