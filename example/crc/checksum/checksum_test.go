package checksum

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	capnp "capnproto.org/go/capnp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/nonblock"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestChecksum(t *testing.T) {
	// CRC-32C check value.
	assert.Equal(t, uint32(0xE3069283), Checksum([]byte("123456789")))
	assert.Equal(t, uint32(0), Checksum(nil))
}

func TestRequestRoundTrip(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("a"), []byte("hello, world"), bytes.Repeat([]byte{0xAB}, 100000)} {
		msg, err := NewRequest(data)
		require.NoError(t, err)

		got, err := ParseRequest(msg)
		require.NoError(t, err)
		assert.Equal(t, len(data), len(got))
		assert.True(t, bytes.Equal(data, got))
	}
}

func TestResponseRoundTrip(t *testing.T) {
	msg, err := NewResponse(0xDEADBEEF)
	require.NoError(t, err)

	got, err := ParseResponse(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), got)
}

// dripReader returns one byte per call, alternating with ErrWouldBlock.
type dripReader struct {
	data    []byte
	blocked bool
}

func (r *dripReader) Read(p []byte) (int, error) {
	if r.blocked || len(r.data) == 0 {
		r.blocked = false
		return 0, nonblock.ErrWouldBlock
	}
	r.blocked = true
	n := copy(p, r.data[:1])
	r.data = r.data[n:]
	return n, nil
}

// Frames built by the capnp runtime are read by FrameReader byte by byte,
// and frames written by FrameWriter are accepted by the capnp runtime.
func TestCapnpCompatibility(t *testing.T) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	require.NoError(t, err)
	root, err := capnp.NewRootStruct(seg, requestSize)
	require.NoError(t, err)
	require.NoError(t, root.SetData(0, []byte("compatible")))

	frame, err := msg.Marshal()
	require.NoError(t, err)

	r := nonblock.NewFrameReader()
	src := &dripReader{data: frame}
	var got *nonblock.Message
	for got == nil {
		got, err = r.Advance(src)
		if err != nil {
			require.ErrorIs(t, err, nonblock.ErrWouldBlock)
		}
	}

	data, err := ParseRequest(got)
	require.NoError(t, err)
	assert.Equal(t, "compatible", string(data))

	var out bytes.Buffer
	done, err := nonblock.NewFrameWriter(got).Advance(&out)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, frame, out.Bytes())

	back, err := capnp.Unmarshal(out.Bytes())
	require.NoError(t, err)
	p, err := back.Root()
	require.NoError(t, err)
	field, err := p.Struct().Ptr(0)
	require.NoError(t, err)
	assert.Equal(t, "compatible", string(field.Data()))
}

func TestService_Respond(t *testing.T) {
	svc := NewService(discardLogger)

	request, err := NewRequest([]byte("123456789"))
	require.NoError(t, err)

	response, err := svc.Respond(request)
	require.NoError(t, err)

	crc, err := ParseResponse(response)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xE3069283), crc)
}

func TestRequest(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
	server, err := nonblock.New(addr,
		nonblock.ServerLoggerOption(discardLogger),
		nonblock.ServerConnOption(nonblock.LoggerOption(discardLogger), nonblock.HeartbeatOption(10*time.Millisecond)),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, NewService(discardLogger))
	}()
	defer func() {
		cancel()
		<-done
	}()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()

	data := bytes.Repeat([]byte("checksum "), 1000)
	crc, err := Request(reqCtx, server.Addr().String(), data)
	require.NoError(t, err)
	assert.Equal(t, Checksum(data), crc)
}

func TestRequest_DialError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = Request(ctx, addr, []byte("x"))
	assert.Error(t, err)
}
