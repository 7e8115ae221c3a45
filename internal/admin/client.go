package admin

import (
	"fmt"
	"net"
	"time"
)

// DialTimeout bounds how long a client waits to connect to the admin socket.
const DialTimeout = 3 * time.Second

// Do opens a fresh connection to the admin socket at path, sends req, reads
// the matching response, and closes the connection — the one-shot
// request/response/close cycle the admin protocol uses; it has no notion of
// a persistent session.
func Do(path string, req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", path, DialTimeout)
	if err != nil {
		return Response{}, fmt.Errorf("admin: connect to %s: %w", path, err)
	}
	defer conn.Close()

	if err := WriteRequest(conn, req); err != nil {
		return Response{}, fmt.Errorf("admin: send request: %w", err)
	}
	resp, err := ReadResponse(conn)
	if err != nil {
		return Response{}, fmt.Errorf("admin: read response: %w", err)
	}
	return resp, nil
}
