package admin_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehdtndla123/proxy-server/internal/admin"
	"github.com/ehdtndla123/proxy-server/internal/registry"
)

func dialRaw(path string) (net.Conn, error) {
	return net.DialTimeout("unix", path, admin.DialTimeout)
}

type fakeController struct {
	entries    []registry.Entry
	signaled   map[uint32]int32
	knownID    uint32
	shutdownCh chan struct{}
}

func newFakeController(knownID uint32) *fakeController {
	return &fakeController{
		signaled:   make(map[uint32]int32),
		knownID:    knownID,
		shutdownCh: make(chan struct{}, 1),
	}
}

func (f *fakeController) Snapshot() []registry.Entry { return f.entries }

func (f *fakeController) Signal(handlerID uint32, sig int32) bool {
	if handlerID != f.knownID {
		return false
	}
	f.signaled[handlerID] = sig
	return true
}

func (f *fakeController) Shutdown() {
	select {
	case f.shutdownCh <- struct{}{}:
	default:
	}
}

func startTestServer(t *testing.T, ctrl admin.Controller) (string, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admin.sock")
	srv := admin.NewServer(path, ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		_, err := admin.Do(path, admin.Request{Command: admin.CommandList})
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	return path, func() {
		cancel()
		<-serveErr
	}
}

func TestServerListReturnsSnapshot(t *testing.T) {
	ctrl := newFakeController(7)
	ctrl.entries = []registry.Entry{{HandlerID: 7, ClientAddr: "10.0.0.1", ClientPort: 1111}}

	path, stop := startTestServer(t, ctrl)
	defer stop()

	resp, err := admin.Do(path, admin.Request{Command: admin.CommandList})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Entries, 1)
	require.Equal(t, uint32(7), resp.Entries[0].HandlerID)
}

func TestServerKillKnownHandlerSucceeds(t *testing.T) {
	ctrl := newFakeController(9)
	path, stop := startTestServer(t, ctrl)
	defer stop()

	resp, err := admin.Do(path, admin.Request{Command: admin.CommandKill, HandlerID: 9})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestServerKillUnknownHandlerFails(t *testing.T) {
	ctrl := newFakeController(9)
	path, stop := startTestServer(t, ctrl)
	defer stop()

	resp, err := admin.Do(path, admin.Request{Command: admin.CommandKill, HandlerID: 404})
	require.NoError(t, err)
	require.False(t, resp.Success)
}

func TestServerShutdownInvokesController(t *testing.T) {
	ctrl := newFakeController(1)
	path, stop := startTestServer(t, ctrl)
	defer stop()

	resp, err := admin.Do(path, admin.Request{Command: admin.CommandShutdown})
	require.NoError(t, err)
	require.True(t, resp.Success)

	select {
	case <-ctrl.shutdownCh:
	case <-time.After(time.Second):
		t.Fatal("Shutdown was not called on the controller")
	}
}

func TestServerMalformedRequestGetsFailureResponse(t *testing.T) {
	ctrl := newFakeController(1)
	path, stop := startTestServer(t, ctrl)
	defer stop()

	conn, err := dialRaw(path)
	require.NoError(t, err)
	defer conn.Close()

	conn.Write([]byte{1})
	conn.(*net.UnixConn).CloseWrite()
	resp, err := admin.ReadResponse(conn)
	require.NoError(t, err)
	require.False(t, resp.Success)
}
