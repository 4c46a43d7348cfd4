package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyWritesToken(t *testing.T) {
	var out bytes.Buffer
	f := New(strings.NewReader(""), &out, 0)
	require.NoError(t, f.Ready())
	assert.Equal(t, "READY\n", out.String())
}

func TestReadHeaderParsesKnownKeys(t *testing.T) {
	in := "ver:3.0 server:supervisor serial:21 pool:listener poolserial:10 eventname:PROCESS_STATE_FATAL len:54\n"
	f := New(strings.NewReader(in), io.Discard, 0)
	h, err := f.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, "PROCESS_STATE_FATAL", h.EventName)
	assert.Equal(t, 54, h.Len)
	assert.Equal(t, 21, h.Serial)
	assert.Equal(t, "listener", h.Pool)
	assert.Equal(t, 10, h.PoolSerial)
	assert.Equal(t, "3.0", h.Ver)
	assert.Equal(t, "supervisor", h.Server)
}

func TestReadHeaderPreservesUnknownKeys(t *testing.T) {
	f := New(strings.NewReader("len:0 future:stuff\n"), io.Discard, 0)
	h, err := f.ReadHeader()
	require.NoError(t, err)
	assert.Equal(t, "stuff", h.Fields["future"])
}

func TestReadHeaderMissingLen(t *testing.T) {
	f := New(strings.NewReader("eventname:PROCESS_STATE_RUNNING\n"), io.Discard, 0)
	_, err := f.ReadHeader()
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "missing len")
}

func TestReadHeaderNonNumericLen(t *testing.T) {
	f := New(strings.NewReader("len:abc eventname:X\n"), io.Discard, 0)
	_, err := f.ReadHeader()
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
}

func TestReadHeaderMalformedToken(t *testing.T) {
	f := New(strings.NewReader("len:5 junk\n"), io.Discard, 0)
	_, err := f.ReadHeader()
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
}

func TestReadPayloadExactBytes(t *testing.T) {
	f := New(strings.NewReader("hello!leftover"), io.Discard, 0)
	b, err := f.ReadPayload(6)
	require.NoError(t, err)
	assert.Equal(t, "hello!", string(b))
}

func TestReadPayloadZero(t *testing.T) {
	f := New(strings.NewReader(""), io.Discard, 0)
	b, err := f.ReadPayload(0)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestAckFormats(t *testing.T) {
	var out bytes.Buffer
	f := New(strings.NewReader(""), &out, 0)
	require.NoError(t, f.Ack(true))
	assert.Equal(t, "RESULT 2\nOK", out.String())

	out.Reset()
	require.NoError(t, f.Ack(false))
	assert.Equal(t, "RESULT 4\nFAIL", out.String())
}

// blockingReader never returns, standing in for an idle daemon pipe.
type blockingReader struct{ stop chan struct{} }

func (b *blockingReader) Read([]byte) (int, error) {
	<-b.stop
	return 0, io.EOF
}

func TestIdleTimeoutSurfacesTimeoutError(t *testing.T) {
	br := &blockingReader{stop: make(chan struct{})}
	defer close(br.stop)

	f := New(br, io.Discard, 20*time.Millisecond)
	_, err := f.ReadHeader()
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "read header", te.Op)
}

func TestNoTimeoutWhenDataArrives(t *testing.T) {
	f := New(strings.NewReader("len:3\nabc"), io.Discard, time.Second)
	h, err := f.ReadHeader()
	require.NoError(t, err)
	b, err := f.ReadPayload(h.Len)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(b))
}
