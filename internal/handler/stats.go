package handler

import (
	"sync"
	"time"
)

// Direction identifies which way a segment is travelling through a handler.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	if d == ClientToServer {
		return "client->server"
	}
	return "server->client"
}

// Stats is the per-connection counter set. It is owned exclusively by the
// handler that created it; the handler's two pump goroutines both mutate it
// (one per direction) so it carries its own mutex rather than relying on
// external synchronization. The registry's mirror of these counters may lag
// by at most one forwarded segment.
type Stats struct {
	mu sync.Mutex

	clientToServerBytes   uint64
	clientToServerPackets uint64
	clientToServerDropped uint64

	serverToClientBytes   uint64
	serverToClientPackets uint64
	serverToClientDropped uint64

	startTime    time.Time
	lastActivity time.Time
}

// Init zeroes the counters and sets StartTime/LastActivity to now.
func (s *Stats) Init(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientToServerBytes, s.clientToServerPackets, s.clientToServerDropped = 0, 0, 0
	s.serverToClientBytes, s.serverToClientPackets, s.serverToClientDropped = 0, 0, 0
	s.startTime = now
	s.lastActivity = now
}

// Touch records activity at the given time, for either direction. It is
// called for every successfully received segment, whether or not the filter
// chain goes on to drop it — last-activity updates before the filter chain
// is consulted.
func (s *Stats) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// RecordDrop increments the dropped counter for dir. Called when the filter
// chain instructs the handler to discard a segment; no bytes/packets change.
func (s *Stats) RecordDrop(dir Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == ClientToServer {
		s.clientToServerDropped++
	} else {
		s.serverToClientDropped++
	}
}

// RecordForward increments the byte and packet counters for dir by n. Called
// only after a complete send; a partially written segment never bumps these
// counters.
func (s *Stats) RecordForward(dir Direction, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == ClientToServer {
		s.clientToServerBytes += uint64(n)
		s.clientToServerPackets++
	} else {
		s.serverToClientBytes += uint64(n)
		s.serverToClientPackets++
	}
}

// Snapshot is a consistent, read-only copy of the full counter set, used both
// for the registry mirror and for the final stats log line.
type Snapshot struct {
	ClientToServerBytes   uint64
	ClientToServerPackets uint64
	ClientToServerDropped uint64

	ServerToClientBytes   uint64
	ServerToClientPackets uint64
	ServerToClientDropped uint64

	StartTime    time.Time
	LastActivity time.Time
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ClientToServerBytes:   s.clientToServerBytes,
		ClientToServerPackets: s.clientToServerPackets,
		ClientToServerDropped: s.clientToServerDropped,
		ServerToClientBytes:   s.serverToClientBytes,
		ServerToClientPackets: s.serverToClientPackets,
		ServerToClientDropped: s.serverToClientDropped,
		StartTime:             s.startTime,
		LastActivity:          s.lastActivity,
	}
}
