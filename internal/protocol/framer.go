package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Tokens of the supervisord eventlistener handshake. The daemon only
// advances after reading the exact acknowledgement bytes, so every write
// here must reach the pipe unbuffered.
const (
	readyToken  = "READY\n"
	resultOK    = "RESULT 2\nOK"
	resultFail  = "RESULT 4\nFAIL"
	headerDelim = '\n'
)

// Header is one parsed event-frame header line. Recognized keys are lifted
// into fields; everything else stays in Fields for callers that want it.
type Header struct {
	EventName  string
	Len        int
	Ver        string
	Server     string
	Serial     int
	Pool       string
	PoolSerial int
	Fields     map[string]string
}

// ProtocolError reports malformed framing. It is fatal to the read loop:
// once a header cannot be parsed there is no way to resynchronize on the
// byte stream.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s (line %q)", e.Reason, strings.TrimSpace(e.Line))
}

// TimeoutError reports an idle-read timeout on the event channel.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("protocol: %s timed out after %s", e.Op, e.After)
}

// Framer speaks the daemon's line-and-length framed event protocol over a
// duplex byte stream (stdin/stdout when run under the daemon). It is not
// safe for concurrent use; the protocol itself is strictly sequential.
type Framer struct {
	r           *bufio.Reader
	w           io.Writer
	idleTimeout time.Duration

	// pending holds the result of an in-flight guarded read so the reader
	// goroutine from a timed-out call can never interleave with a new one.
	pending chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// New wraps the given reader/writer pair. idleTimeout <= 0 disables the
// idle-read timeout and reads block indefinitely, which is the normal mode
// under the daemon's managed pipe.
func New(r io.Reader, w io.Writer, idleTimeout time.Duration) *Framer {
	return &Framer{
		r:           bufio.NewReader(r),
		w:           w,
		idleTimeout: idleTimeout,
	}
}

// Ready signals readiness for the next event frame.
func (f *Framer) Ready() error {
	return f.write([]byte(readyToken))
}

// ReadHeader blocks until one newline-terminated header line arrives and
// parses it. A missing or non-numeric len key is a ProtocolError.
func (f *Framer) ReadHeader() (Header, error) {
	line, err := f.readGuarded("read header", func(r *bufio.Reader) ([]byte, error) {
		s, err := r.ReadString(headerDelim)
		return []byte(s), err
	})
	if err != nil {
		return Header{}, err
	}
	return parseHeader(string(line))
}

// ReadPayload reads exactly n payload bytes. The payload carries no
// trailing newline.
func (f *Framer) ReadPayload(n int) ([]byte, error) {
	if n < 0 {
		return nil, &ProtocolError{Reason: fmt.Sprintf("negative payload length %d", n)}
	}
	if n == 0 {
		return nil, nil
	}
	return f.readGuarded("read payload", func(r *bufio.Reader) ([]byte, error) {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	})
}

// Ack writes the acknowledgement for the frame just processed. The daemon
// buffers the event for redelivery when it sees FAIL.
func (f *Framer) Ack(ok bool) error {
	if ok {
		return f.write([]byte(resultOK))
	}
	return f.write([]byte(resultFail))
}

type flusher interface{ Flush() error }

func (f *Framer) write(b []byte) error {
	if _, err := f.w.Write(b); err != nil {
		return fmt.Errorf("write event channel: %w", err)
	}
	// The daemon blocks on the exact acknowledgement bytes; a buffered
	// writer that is not flushed here deadlocks the whole supervisor.
	if fl, ok := f.w.(flusher); ok {
		if err := fl.Flush(); err != nil {
			return fmt.Errorf("flush event channel: %w", err)
		}
	}
	return nil
}

// readGuarded runs one blocking read, bounded by the idle timeout when one
// is configured. A timed-out read leaves its goroutine parked on pending;
// the caller treats the timeout as fatal, so the stream is never reused.
func (f *Framer) readGuarded(op string, read func(*bufio.Reader) ([]byte, error)) ([]byte, error) {
	if f.idleTimeout <= 0 {
		return read(f.r)
	}
	if f.pending == nil {
		f.pending = make(chan readResult, 1)
	}
	go func() {
		data, err := read(f.r)
		f.pending <- readResult{data: data, err: err}
	}()
	timer := time.NewTimer(f.idleTimeout)
	defer timer.Stop()
	select {
	case res := <-f.pending:
		return res.data, res.err
	case <-timer.C:
		return nil, &TimeoutError{Op: op, After: f.idleTimeout}
	}
}

func parseHeader(line string) (Header, error) {
	h := Header{Fields: make(map[string]string)}
	trimmed := strings.TrimRight(line, "\n")
	if trimmed == "" {
		return Header{}, &ProtocolError{Line: line, Reason: "empty header line"}
	}
	for _, tok := range strings.Fields(trimmed) {
		k, v, found := strings.Cut(tok, ":")
		if !found || k == "" {
			return Header{}, &ProtocolError{Line: line, Reason: "token without key:value form"}
		}
		h.Fields[k] = v
		switch k {
		case "eventname":
			h.EventName = v
		case "ver":
			h.Ver = v
		case "server":
			h.Server = v
		case "pool":
			h.Pool = v
		case "serial":
			h.Serial, _ = strconv.Atoi(v)
		case "poolserial":
			h.PoolSerial, _ = strconv.Atoi(v)
		}
	}
	raw, ok := h.Fields["len"]
	if !ok {
		return Header{}, &ProtocolError{Line: line, Reason: "missing len key"}
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return Header{}, &ProtocolError{Line: line, Reason: fmt.Sprintf("non-numeric len %q", raw)}
	}
	h.Len = n
	return h, nil
}
