package checksum

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/pkg/errors"

	"github.com/Zereker/nonblock"
)

// Service answers CrcRequests.
type Service struct {
	logger nonblock.Logger
}

// NewService returns a Service logging to logger, or slog.Default() if nil.
func NewService(logger nonblock.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// Respond computes the response to one request.
func (s *Service) Respond(request *nonblock.Message) (*nonblock.Message, error) {
	data, err := ParseRequest(request)
	if err != nil {
		return nil, err
	}
	crc := Checksum(data)
	s.logger.Info("computing checksum", "bytes", len(data), "crc", fmt.Sprintf("0x%X", crc))
	return NewResponse(crc)
}

// ServeMessage answers a request received on a goroutine-per-connection
// server. It implements nonblock.Handler.
func (s *Service) ServeMessage(conn *nonblock.Conn, request *nonblock.Message) error {
	response, err := s.Respond(request)
	if err != nil {
		return err
	}
	return conn.Write(response)
}

// Request sends data to the server at addr and returns the checksum it
// computed. The connection is closed afterwards. A deadline on ctx bounds
// the whole exchange.
func Request(ctx context.Context, addr string, data []byte, opt ...nonblock.Option) (uint32, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, errors.Wrapf(err, "dial %s", addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	request, err := NewRequest(data)
	if err != nil {
		return 0, err
	}
	if err = nonblock.WriteMessage(conn, request); err != nil {
		return 0, errors.Wrap(err, "send request")
	}

	response, err := nonblock.ReadMessage(conn, opt...)
	if err != nil {
		return 0, errors.Wrap(err, "read response")
	}
	return ParseResponse(response)
}
