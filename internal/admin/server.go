package admin

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/ehdtndla123/proxy-server/internal/logging"
	"github.com/ehdtndla123/proxy-server/internal/registry"
)

// Controller is the supervisor-side surface the admin listener dispatches
// against: a registry snapshot for LIST/STATS, a way to signal a live
// handler by id for KILL/SIGNAL, and a way to initiate whole-proxy shutdown.
type Controller interface {
	Snapshot() []registry.Entry
	Signal(handlerID uint32, signal int32) bool
	Shutdown()
}

// Server is the admin listener: a dedicated goroutine accepting connections
// on a filesystem-named Unix domain socket, decoding one fixed-size request,
// dispatching it against a Controller, and replying with one fixed-size
// response.
type Server struct {
	path string
	ctrl Controller
}

// NewServer constructs an admin Server bound to socketPath once Serve runs.
func NewServer(socketPath string, ctrl Controller) *Server {
	return &Server{path: socketPath, ctrl: ctrl}
}

// Serve listens on the admin socket and accepts connections until ctx is
// canceled, at which point it closes the listener and unlinks the socket
// path so the listener wakes promptly when the supervisor shuts down.
func (s *Server) Serve(ctx context.Context) error {
	os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", s.path, err)
	}
	defer os.Remove(s.path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logging.Infof("admin listener started on %s", s.path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("admin: accept: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	req, err := ReadRequest(conn)
	if err != nil {
		logging.Warnf("admin: %v", err)
		_ = WriteResponse(conn, Response{Success: false, Message: "malformed or short request"})
		return
	}

	resp := s.dispatch(req)
	if err := WriteResponse(conn, resp); err != nil {
		logging.Warnf("admin: failed to send response: %v", err)
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Command {
	case CommandList, CommandStats:
		entries := s.ctrl.Snapshot()
		return Response{
			Success: true,
			Entries: toSummaries(entries),
			Message: fmt.Sprintf("%d active connection(s)", len(entries)),
		}

	case CommandKill:
		if s.ctrl.Signal(req.HandlerID, int32(syscall.SIGTERM)) {
			return Response{Success: true, Message: fmt.Sprintf("sent termination signal to handler %d", req.HandlerID)}
		}
		return Response{Success: false, Message: fmt.Sprintf("handler %d not found", req.HandlerID)}

	case CommandSignal:
		if s.ctrl.Signal(req.HandlerID, req.Signal) {
			return Response{Success: true, Message: fmt.Sprintf("sent signal %d to handler %d", req.Signal, req.HandlerID)}
		}
		return Response{Success: false, Message: fmt.Sprintf("handler %d not found", req.HandlerID)}

	case CommandShutdown:
		s.ctrl.Shutdown()
		return Response{Success: true, Message: "shutdown initiated"}

	default:
		return Response{Success: false, Message: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func toSummaries(entries []registry.Entry) []EntrySummary {
	out := make([]EntrySummary, len(entries))
	for i, e := range entries {
		out[i] = EntrySummary{
			HandlerID:           e.HandlerID,
			ClientAddr:          e.ClientAddr,
			ClientPort:          e.ClientPort,
			TargetAddr:          e.TargetAddr,
			TargetPort:          e.TargetPort,
			ClientToServerBytes: e.ClientToServerBytes,
			ServerToClientBytes: e.ServerToClientBytes,
			StartTime:           e.StartTime,
			LastActivity:        e.LastActivity,
		}
	}
	return out
}
