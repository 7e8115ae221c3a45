// Package handler implements the bidirectional relay core: given two
// connected sockets, forward bytes in both directions through a filter
// chain, maintain per-connection stats, and terminate on peer close,
// unrecoverable I/O error, 60-second inactivity, or an external cancellation
// (an admin KILL/SIGNAL or whole-proxy shutdown).
//
// The source's single select() loop over two file descriptors is realized
// here as two directional "pump" goroutines plus a watchdog, an equivalent
// readiness mechanism that mirrors (and generalizes, with
// filtering/stats/registry) the goroutine-per-direction relay in
// transparentProxy/main.go.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehdtndla123/proxy-server/internal/filter"
	"github.com/ehdtndla123/proxy-server/internal/logging"
	"github.com/ehdtndla123/proxy-server/internal/registry"
)

// BufferSize is the maximum segment size read in one receive, matching
// original_source/include/types.h's BUFFER_SIZE.
const BufferSize = 8192

// IdleTimeout is the inactivity window after which a handler gives up and
// terminates, matching original_source's SELECT_TIMEOUT_SEC.
const IdleTimeout = 60 * time.Second

var nextHandlerID uint32

// NextID hands out the next handler identity, the Go realization of the
// source's pid_t.
func NextID() uint32 {
	return atomic.AddUint32(&nextHandlerID, 1)
}

// Connection is the per-handler record: the two owned sockets, the
// addresses on each side, the owned Stats, and a private copy of the filter
// chain (copied by value so handlers never share mutable chain state).
type Connection struct {
	ID uint32

	Client   net.Conn
	Upstream net.Conn

	ClientAddr string
	ClientPort int
	TargetAddr string
	TargetPort int

	Chain filter.Chain
}

// Handler runs one Connection's relay loop to completion and mirrors its
// progress into a shared Registry.
type Handler struct {
	conn     Connection
	stats    Stats
	registry *registry.Registry

	mu           sync.Mutex
	lastActivity time.Time
}

// New constructs a Handler for conn, reporting into reg.
func New(conn Connection, reg *registry.Registry) *Handler {
	return &Handler{conn: conn, registry: reg}
}

// ID returns the handler's identity.
func (h *Handler) ID() uint32 { return h.conn.ID }

// Relay runs the bidirectional copy loop to completion. It registers the
// connection before relaying and deregisters it on exit, regardless of
// which direction or condition ended the relay. ctx's
// cancellation is the handler's external termination trigger (an admin
// KILL/SIGNAL, or whole-proxy shutdown); Relay returns once the connection is
// fully torn down.
func (h *Handler) Relay(ctx context.Context) {
	now := time.Now()
	h.stats.Init(now)
	h.setActivity(now)

	if ok := h.registry.Register(registry.Entry{
		HandlerID:    h.conn.ID,
		ClientAddr:   h.conn.ClientAddr,
		ClientPort:   h.conn.ClientPort,
		TargetAddr:   h.conn.TargetAddr,
		TargetPort:   h.conn.TargetPort,
		StartTime:    now,
		LastActivity: now,
	}); !ok {
		logging.Warnf("registry at capacity, handler %d will relay without admin visibility", h.conn.ID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var closeOnce sync.Once
	teardown := func() {
		closeOnce.Do(func() {
			h.conn.Client.Close()
			h.conn.Upstream.Close()
		})
	}

	// Unblock both pumps immediately on cancellation, whether it came from
	// a peer-close/error in the other pump, the watchdog, or an external
	// admin/shutdown signal.
	go func() {
		<-runCtx.Done()
		teardown()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go h.pump(runCtx, cancel, &wg, ClientToServer, h.conn.Client, h.conn.Upstream)
	go h.pump(runCtx, cancel, &wg, ServerToClient, h.conn.Upstream, h.conn.Client)

	watchdogDone := make(chan struct{})
	go h.watchdog(runCtx, cancel, watchdogDone)

	wg.Wait()
	cancel()
	<-watchdogDone
	teardown()

	snap := h.stats.Snapshot()
	logging.Infof(
		"handler %d final stats: c->s %d bytes/%d packets/%d dropped, s->c %d bytes/%d packets/%d dropped, duration %s",
		h.conn.ID,
		snap.ClientToServerBytes, snap.ClientToServerPackets, snap.ClientToServerDropped,
		snap.ServerToClientBytes, snap.ServerToClientPackets, snap.ServerToClientDropped,
		time.Since(snap.StartTime).Round(time.Millisecond),
	)
	h.registry.Unregister(h.conn.ID)
}

// Snapshot returns the handler's current stats, for tests and status
// reporting outside the relay loop.
func (h *Handler) Snapshot() Snapshot {
	return h.stats.Snapshot()
}

func (h *Handler) setActivity(t time.Time) {
	h.mu.Lock()
	h.lastActivity = t
	h.mu.Unlock()
}

func (h *Handler) idleSince() time.Duration {
	h.mu.Lock()
	last := h.lastActivity
	h.mu.Unlock()
	return time.Since(last)
}

// watchdog enforces a single 60-second inactivity timer shared across both
// directions of one connection: it fires only once neither pump has seen
// activity for IdleTimeout, not on each direction independently.
func (h *Handler) watchdog(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("handler %d: watchdog panic: %v", h.conn.ID, r)
			cancel()
		}
	}()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.idleSince() >= IdleTimeout {
				logging.Warnf("handler %d: timeout (no activity for %s)", h.conn.ID, IdleTimeout)
				cancel()
				return
			}
		}
	}
}

func (h *Handler) pump(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, dir Direction, src, dst net.Conn) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("handler %d: %s pump panic: %v", h.conn.ID, dir, r)
			cancel()
		}
	}()

	buf := make([]byte, BufferSize)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(h.conn.ID) ^ int64(dir)<<32))
	chain := h.conn.Chain

	for {
		n, err := src.Read(buf)
		if err != nil {
			if n == 0 {
				if errors.Is(err, io.EOF) {
					logging.Infof("handler %d: %s peer closed the connection", h.conn.ID, dir)
				} else if !isClosedConnErr(err) {
					logging.Errorf("handler %d: %s receive error: %v", h.conn.ID, dir, err)
				}
				cancel()
				return
			}
			// Fall through: some implementations return (n>0, err) on the
			// final read; the bytes are still real and are processed below
			// before the err check after them ends the loop.
		}

		if n > 0 {
			now := time.Now()
			h.stats.Touch(now)
			h.setActivity(now)

			result := chain.Apply(n, rng, func(nanos int64) {
				if nanos > 0 {
					time.Sleep(time.Duration(nanos))
				}
			})

			if result.Dropped {
				h.stats.RecordDrop(dir)
			} else if werr := writeFull(dst, buf[:n]); werr != nil {
				if !isClosedConnErr(werr) {
					logging.Errorf("handler %d: %s send error: %v", h.conn.ID, dir, werr)
				}
				cancel()
				return
			} else {
				h.stats.RecordForward(dir, n)
			}

			h.mirrorStats()
		}

		if err != nil {
			cancel()
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (h *Handler) mirrorStats() {
	snap := h.stats.Snapshot()
	h.registry.UpdateStats(h.conn.ID, snap.ClientToServerBytes, snap.ServerToClientBytes, snap.LastActivity)
}

// writeFull sends all of buf to conn, retrying on partial writes until every
// byte is delivered or a hard error occurs.
func writeFull(conn net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := conn.Write(buf[total:])
		total += n
		if err != nil {
			return fmt.Errorf("partial write after %d/%d bytes: %w", total, len(buf), err)
		}
	}
	return nil
}

func isClosedConnErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
