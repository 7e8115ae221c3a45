// Package admin implements the fixed-layout administrative wire protocol:
// one request record, one response record, then close. Both sides use
// identical byte layouts; the protocol is local-only, so it is encoded in
// the host's native endianness (not network byte order) via
// encoding/binary.NativeEndian, directly mirroring
// original_source/include/control.h's plain C structs being read and written
// through a Unix domain socket without any marshaling layer.
package admin

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Command identifies an admin request's operation, mirroring
// original_source/include/control.h's ControlCommand enum.
type Command uint8

const (
	CommandList Command = iota
	CommandKill
	CommandSignal
	CommandStats
	CommandShutdown
)

func (c Command) String() string {
	switch c {
	case CommandList:
		return "LIST"
	case CommandKill:
		return "KILL"
	case CommandSignal:
		return "SIGNAL"
	case CommandStats:
		return "STATS"
	case CommandShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

const (
	maxAddrLen    = 64
	maxMessageLen = 256
	// MaxEntries bounds a single response, matching the registry's capacity.
	MaxEntries = 100
)

// Request is the decoded form of a ControlRequest record.
type Request struct {
	Command   Command
	HandlerID uint32
	Signal    int32
}

// EntrySummary is the decoded form of one ConnectionInfo record.
type EntrySummary struct {
	HandlerID uint32

	ClientAddr string
	ClientPort int
	TargetAddr string
	TargetPort int

	ClientToServerBytes uint64
	ServerToClientBytes uint64

	StartTime    time.Time
	LastActivity time.Time
}

// Response is the decoded form of a ControlResponse record.
type Response struct {
	Success bool
	Entries []EntrySummary
	Message string
}

// wireRequest and wireResponse are the exact fixed-size records exchanged on
// the socket. Every field has an explicit fixed-width type so
// encoding/binary can serialize it without reflection surprises.
type wireRequest struct {
	Command   uint8
	HandlerID uint32
	Signal    int32
}

type wireEntry struct {
	HandlerID           uint32
	ClientAddr          [maxAddrLen]byte
	ClientPort          int32
	TargetAddr          [maxAddrLen]byte
	TargetPort          int32
	ClientToServerBytes uint64
	ServerToClientBytes uint64
	StartTime           int64
	LastActivity        int64
}

type wireResponse struct {
	Success bool
	Count   int32
	Entries [MaxEntries]wireEntry
	Message [maxMessageLen]byte
}

func requestSize() int  { return binary.Size(wireRequest{}) }
func responseSize() int { return binary.Size(wireResponse{}) }

func putString(dst []byte, s string) {
	if len(dst) == 0 {
		return
	}
	n := copy(dst[:len(dst)-1], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}

// fromUnix decodes a wire timestamp; the encoding of the zero time.Time
// decodes back to the zero time.Time.
func fromUnix(sec int64) time.Time {
	if sec == (time.Time{}).Unix() {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// WriteRequest encodes and sends r as a single fixed-size record.
func WriteRequest(w io.Writer, r Request) error {
	wr := wireRequest{Command: uint8(r.Command), HandlerID: r.HandlerID, Signal: r.Signal}
	return binary.Write(w, binary.NativeEndian, wr)
}

// ErrShortRequest is returned when fewer than a full request record's worth
// of bytes arrives before the peer closes; a short read is a protocol
// error, not end-of-stream.
var ErrShortRequest = fmt.Errorf("admin: short request record")

// ReadRequest reads exactly one fixed-size request record from r.
func ReadRequest(r io.Reader) (Request, error) {
	buf := make([]byte, requestSize())
	if _, err := io.ReadFull(r, buf); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrShortRequest, err)
	}

	var wr wireRequest
	if err := binary.Read(bytes.NewReader(buf), binary.NativeEndian, &wr); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrShortRequest, err)
	}
	return Request{Command: Command(wr.Command), HandlerID: wr.HandlerID, Signal: wr.Signal}, nil
}

// WriteResponse encodes and sends resp as a single fixed-size record,
// truncating entries beyond MaxEntries and strings beyond their field width.
func WriteResponse(w io.Writer, resp Response) error {
	var wr wireResponse
	wr.Success = resp.Success

	n := len(resp.Entries)
	if n > MaxEntries {
		n = MaxEntries
	}
	wr.Count = int32(n)
	for i := 0; i < n; i++ {
		e := resp.Entries[i]
		we := &wr.Entries[i]
		we.HandlerID = e.HandlerID
		putString(we.ClientAddr[:], e.ClientAddr)
		we.ClientPort = int32(e.ClientPort)
		putString(we.TargetAddr[:], e.TargetAddr)
		we.TargetPort = int32(e.TargetPort)
		we.ClientToServerBytes = e.ClientToServerBytes
		we.ServerToClientBytes = e.ServerToClientBytes
		we.StartTime = e.StartTime.Unix()
		we.LastActivity = e.LastActivity.Unix()
	}
	putString(wr.Message[:], resp.Message)

	return binary.Write(w, binary.NativeEndian, wr)
}

// ReadResponse reads exactly one fixed-size response record from r.
func ReadResponse(r io.Reader) (Response, error) {
	buf := make([]byte, responseSize())
	if _, err := io.ReadFull(r, buf); err != nil {
		return Response{}, fmt.Errorf("admin: short response record: %w", err)
	}

	var wr wireResponse
	if err := binary.Read(bytes.NewReader(buf), binary.NativeEndian, &wr); err != nil {
		return Response{}, err
	}

	count := int(wr.Count)
	if count > MaxEntries {
		count = MaxEntries
	}
	entries := make([]EntrySummary, count)
	for i := 0; i < count; i++ {
		we := wr.Entries[i]
		entries[i] = EntrySummary{
			HandlerID:           we.HandlerID,
			ClientAddr:          getString(we.ClientAddr[:]),
			ClientPort:          int(we.ClientPort),
			TargetAddr:          getString(we.TargetAddr[:]),
			TargetPort:          int(we.TargetPort),
			ClientToServerBytes: we.ClientToServerBytes,
			ServerToClientBytes: we.ServerToClientBytes,
			StartTime:           fromUnix(we.StartTime),
			LastActivity:        fromUnix(we.LastActivity),
		}
	}

	return Response{
		Success: wr.Success,
		Entries: entries,
		Message: getString(wr.Message[:]),
	}, nil
}
