// Package resolve resolves the upstream host to both IPv4 and IPv6
// candidates and dials each in order, returning the first connection that
// succeeds.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrAllCandidatesFailed is returned when every resolved address refused the
// connection (as opposed to resolution itself producing no candidates).
var ErrAllCandidatesFailed = errors.New("resolve: all upstream candidates failed to connect")

// DialUpstream resolves host to its IPv4/IPv6 address list and attempts
// connect on each candidate in the order returned. Hostname literals and
// numeric addresses both work because net.DefaultResolver.LookupHost
// accepts either.
func DialUpstream(ctx context.Context, host string, port int) (net.Conn, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve: lookup %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve: %q resolved to no addresses", host)
	}

	var dialer net.Dialer
	var lastErr error
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, strconv.Itoa(port))
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: last error: %v", ErrAllCandidatesFailed, lastErr)
}
