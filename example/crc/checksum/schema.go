// Package checksum implements a small request/response service computing
// CRC-32C checksums. Requests and responses are Cap'n Proto messages:
//
//	struct CrcRequest  { data @0 :Data; }
//	struct CrcResponse { crc  @0 :UInt32; }
//
// The structs are built with the capnp runtime's untyped struct API, and
// cross the wire as nonblock frames.
package checksum

import (
	"hash/crc32"

	capnp "capnproto.org/go/capnp/v3"
	"github.com/pkg/errors"

	"github.com/Zereker/nonblock"
)

var (
	requestSize  = capnp.ObjectSize{DataSize: 0, PointerCount: 1}
	responseSize = capnp.ObjectSize{DataSize: 8, PointerCount: 0}
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC-32C (Castagnoli) checksum of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// NewRequest builds a CrcRequest carrying data.
func NewRequest(data []byte) (*nonblock.Message, error) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	root, err := capnp.NewRootStruct(seg, requestSize)
	if err != nil {
		return nil, errors.Wrap(err, "new request root")
	}
	if err = root.SetData(0, data); err != nil {
		return nil, errors.Wrap(err, "set request data")
	}
	return FromCapnp(msg)
}

// ParseRequest returns the data of a CrcRequest.
func ParseRequest(m *nonblock.Message) ([]byte, error) {
	root, err := rootStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, "parse request")
	}
	p, err := root.Ptr(0)
	if err != nil {
		return nil, errors.Wrap(err, "parse request data")
	}
	return p.Data(), nil
}

// NewResponse builds a CrcResponse carrying crc.
func NewResponse(crc uint32) (*nonblock.Message, error) {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		return nil, errors.Wrap(err, "new response")
	}
	root, err := capnp.NewRootStruct(seg, responseSize)
	if err != nil {
		return nil, errors.Wrap(err, "new response root")
	}
	root.SetUint32(0, crc)
	return FromCapnp(msg)
}

// ParseResponse returns the checksum of a CrcResponse.
func ParseResponse(m *nonblock.Message) (uint32, error) {
	root, err := rootStruct(m)
	if err != nil {
		return 0, errors.Wrap(err, "parse response")
	}
	return root.Uint32(0), nil
}

// FromCapnp converts a capnp message into its segments.
func FromCapnp(msg *capnp.Message) (*nonblock.Message, error) {
	frame, err := msg.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal")
	}
	return nonblock.ParseFrame(frame, nonblock.DefaultLimits())
}

// ToCapnp gives the capnp runtime read access to the segments of m.
func ToCapnp(m *nonblock.Message) (*capnp.Message, error) {
	frame, err := m.Bytes()
	if err != nil {
		return nil, err
	}
	msg, err := capnp.Unmarshal(frame)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal")
	}
	return msg, nil
}

func rootStruct(m *nonblock.Message) (capnp.Struct, error) {
	msg, err := ToCapnp(m)
	if err != nil {
		return capnp.Struct{}, err
	}
	p, err := msg.Root()
	if err != nil {
		return capnp.Struct{}, err
	}
	return p.Struct(), nil
}
