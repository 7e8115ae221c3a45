package handler_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehdtndla123/proxy-server/internal/filter"
	"github.com/ehdtndla123/proxy-server/internal/handler"
	"github.com/ehdtndla123/proxy-server/internal/registry"
)

// startEchoServer accepts one connection and echoes back everything it
// reads until the connection closes.
func startEchoServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()
	return ln
}

func newRelayPair(t *testing.T, upstreamAddr string, chain filter.Chain) (net.Conn, *registry.Registry, *handler.Handler) {
	t.Helper()

	clientSide, serverSide := net.Pipe()

	upstream, err := net.Dial("tcp", upstreamAddr)
	require.NoError(t, err)

	reg := registry.New()
	conn := handler.Connection{
		ID:         handler.NextID(),
		Client:     serverSide,
		Upstream:   upstream,
		ClientAddr: "127.0.0.1",
		ClientPort: 1234,
		TargetAddr: "127.0.0.1",
		TargetPort: 8080,
		Chain:      chain,
	}
	h := handler.New(conn, reg)
	return clientSide, reg, h
}

func TestRelayEchoRoundTrip(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()

	clientSide, _, h := newRelayPair(t, ln.Addr().String(), filter.Chain{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Relay(ctx)
		close(done)
	}()

	msg := []byte("hello, upstream")
	_, err := clientSide.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(clientSide, buf)
	require.NoError(t, err)
	require.Equal(t, msg, buf)

	clientSide.Close()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not terminate after client close")
	}

	snap := h.Snapshot()
	require.Equal(t, uint64(len(msg)), snap.ClientToServerBytes)
	require.Equal(t, uint64(len(msg)), snap.ServerToClientBytes)
}

func TestRelayDropFilterDiscardsSegments(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()

	drop, err := filter.NewDrop(1.0)
	require.NoError(t, err)
	var chain filter.Chain
	_, err = chain.Add(drop)
	require.NoError(t, err)

	clientSide, _, h := newRelayPair(t, ln.Addr().String(), chain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.Relay(ctx)
		close(done)
	}()

	_, err = clientSide.Write([]byte("never arrives"))
	require.NoError(t, err)

	// Give the pump time to process and drop the segment.
	time.Sleep(100 * time.Millisecond)

	snap := h.Snapshot()
	require.Equal(t, uint64(0), snap.ClientToServerBytes)
	require.Equal(t, uint64(1), snap.ClientToServerDropped)

	clientSide.Close()
	cancel()
	<-done
}

func TestRelayDelayFilterAddsLatency(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()

	delay, err := filter.NewDelay(150)
	require.NoError(t, err)
	var chain filter.Chain
	_, err = chain.Add(delay)
	require.NoError(t, err)

	clientSide, _, h := newRelayPair(t, ln.Addr().String(), chain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.Relay(ctx)
		close(done)
	}()

	msg := []byte("slow path")
	start := time.Now()
	_, err = clientSide.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(clientSide, buf)
	require.NoError(t, err)
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 150*time.Millisecond)

	clientSide.Close()
	cancel()
	<-done
}

func TestRelayTerminatesOnExternalCancel(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()

	clientSide, _, h := newRelayPair(t, ln.Addr().String(), filter.Chain{})
	defer clientSide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Relay(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not terminate on external cancellation")
	}
}

func TestRelayRegistersAndDeregisters(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()

	clientSide, reg, h := newRelayPair(t, ln.Addr().String(), filter.Chain{})
	defer clientSide.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Relay(ctx)
		close(done)
	}()

	// Poll briefly for the registration to land; Relay registers before
	// either pump starts.
	require.Eventually(t, func() bool {
		_, ok := reg.Find(h.ID())
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	_, ok := reg.Find(h.ID())
	require.False(t, ok)
}
