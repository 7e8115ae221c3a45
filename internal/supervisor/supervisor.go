// Package supervisor binds the listening socket, accepts client connections,
// resolves and dials the configured upstream, spawns one isolated handler per
// accepted pair, and hosts the admin listener. It is the Controller the admin
// package dispatches LIST/KILL/SIGNAL/STATS/SHUTDOWN requests against.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ehdtndla123/proxy-server/internal/admin"
	"github.com/ehdtndla123/proxy-server/internal/config"
	"github.com/ehdtndla123/proxy-server/internal/filter"
	"github.com/ehdtndla123/proxy-server/internal/handler"
	"github.com/ehdtndla123/proxy-server/internal/logging"
	"github.com/ehdtndla123/proxy-server/internal/registry"
	"github.com/ehdtndla123/proxy-server/internal/resolve"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = 500 * time.Millisecond
)

// Supervisor owns the listening socket, the shared registry, and the fleet
// of handler goroutines spawned from accepted connections.
type Supervisor struct {
	cfg   config.ProxyConfig
	chain filter.Chain
	reg   *registry.Registry

	mu         sync.Mutex
	cancels    map[uint32]context.CancelFunc
	rootCancel context.CancelFunc

	handlersWg sync.WaitGroup
}

// New constructs a Supervisor for the given configuration and filter chain.
func New(cfg config.ProxyConfig, chain filter.Chain) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		chain:   chain,
		reg:     registry.New(),
		cancels: make(map[uint32]context.CancelFunc),
	}
}

// Snapshot implements admin.Controller.
func (s *Supervisor) Snapshot() []registry.Entry {
	return s.reg.Snapshot()
}

// Signal implements admin.Controller: it finds the handler's cancellation
// function and, for SIGTERM/SIGINT/SIGKILL, cancels it — the goroutine-world
// equivalent of delivering a terminating signal to a process. Other named
// signals (STOP, CONT, HUP, USR1, USR2) have no analogue for a goroutine
// relay loop; they are logged and otherwise ignored. Success reflects
// whether the handler was found; success reflects the signal send, not
// whether the handler subsequently exits.
func (s *Supervisor) Signal(handlerID uint32, sig int32) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[handlerID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	switch syscall.Signal(sig) {
	case syscall.SIGTERM, syscall.SIGINT, syscall.SIGKILL:
		cancel()
	default:
		logging.Infof("handler %d: signal %d has no goroutine-level effect; logged only", handlerID, sig)
	}
	return true
}

// Shutdown implements admin.Controller: it cancels the supervisor's root
// context, which unwinds the accept loop, the admin listener, and every live
// handler.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	cancel := s.rootCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run binds the listener and admin socket and serves until ctx is canceled
// or an unrecoverable error occurs. It returns nil on clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	rootCtx, rootCancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.rootCancel = rootCancel
	s.mu.Unlock()
	defer rootCancel()

	ln, err := s.listen()
	if err != nil {
		return err
	}

	adminSrv := admin.NewServer(s.cfg.AdminSocket, s)

	g, gctx := errgroup.WithContext(rootCtx)

	go func() {
		<-gctx.Done()
		ln.Close()
	}()

	g.Go(func() error { return adminSrv.Serve(gctx) })
	g.Go(func() error { return s.acceptLoop(gctx, ln) })
	g.Go(func() error { return watchOSSignals(gctx, rootCancel) })

	runErr := g.Wait()
	s.handlersWg.Wait()

	if runErr != nil && errors.Is(runErr, net.ErrClosed) {
		return nil
	}
	return runErr
}

func (s *Supervisor) listen() (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}

	addr := fmt.Sprintf(":%d", s.cfg.ListenPort)
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("supervisor: bind %s: %w", addr, err)
	}
	logging.Infof("listening on %s, forwarding to %s:%d", addr, s.cfg.TargetHost, s.cfg.TargetPort)
	return ln, nil
}

func (s *Supervisor) acceptLoop(ctx context.Context, ln net.Listener) error {
	backoff := time.Duration(0)

	for {
		client, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				backoff = nextBackoff(backoff)
				logging.Warnf("accept: temporary error: %v (retrying in %s)", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("supervisor: accept: %w", err)
		}

		backoff = 0
		s.handlersWg.Add(1)
		go func() {
			defer s.handlersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					logging.Errorf("supervisor: spawn panic for %s: %v", client.RemoteAddr(), r)
					client.Close()
				}
			}()
			s.spawn(ctx, client)
		}()
	}
}

func nextBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptBackoff
	}
	next := prev * 2
	if next > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return next
}

// spawn resolves and dials the upstream target, then runs a handler to
// completion for one accepted client connection. A dial failure closes the
// client socket and the supervisor moves on without retrying.
func (s *Supervisor) spawn(ctx context.Context, client net.Conn) {
	upstream, err := resolve.DialUpstream(ctx, s.cfg.TargetHost, s.cfg.TargetPort)
	if err != nil {
		logging.Warnf("dial upstream for %s: %v", client.RemoteAddr(), err)
		client.Close()
		return
	}

	id := handler.NextID()
	hctx, hcancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancels[id] = hcancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
		hcancel()
	}()

	clientHost, clientPort := splitHostPort(client.RemoteAddr().String())

	conn := handler.Connection{
		ID:         id,
		Client:     client,
		Upstream:   upstream,
		ClientAddr: clientHost,
		ClientPort: clientPort,
		TargetAddr: s.cfg.TargetHost,
		TargetPort: s.cfg.TargetPort,
		Chain:      s.chain.Clone(),
	}

	h := handler.New(conn, s.reg)
	h.Relay(hctx)
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func watchOSSignals(ctx context.Context, cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		return nil
	case sig := <-sigCh:
		logging.Infof("received %s, shutting down", sig)
		cancel()
		return nil
	}
}
