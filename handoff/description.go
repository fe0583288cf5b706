// Package handoff transfers a listening socket from the broker process that
// created it to the receiver processes that serve it. The broker owns the
// workload endpoint and a control channel; a receiver announces itself with
// a single READY byte and gets back a fixed-size socket description plus the
// listen file descriptor as SCM_RIGHTS ancillary data.
package handoff

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ReadyByte is the token a receiver sends on the control channel to request
// a handoff.
const ReadyByte = '!'

// DescriptionLength is the wire size of a socket description: three
// native-width integers in host byte order.
const DescriptionLength = 12

// ErrShortDescription reports a description payload of fewer than
// DescriptionLength bytes.
var ErrShortDescription = errors.New("handoff: short socket description")

// ErrAncillary reports a malformed SCM_RIGHTS transmission: a missing
// rights record, or one carrying anything other than exactly one file
// descriptor.
var ErrAncillary = errors.New("handoff: bad ancillary data")

// Description names a kernel socket by its (family, type, protocol) triple,
// enough to reconstitute a usable socket around a received file descriptor.
type Description struct {
	Family   int32
	Type     int32
	Protocol int32
}

// DescribeSocket probes fd for its description.
func DescribeSocket(fd int) (Description, error) {
	var d Description
	family, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_DOMAIN)
	if err != nil {
		return d, errors.Wrap(err, "handoff: get socket domain")
	}
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return d, errors.Wrap(err, "handoff: get socket type")
	}
	proto, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PROTOCOL)
	if err != nil {
		return d, errors.Wrap(err, "handoff: get socket protocol")
	}
	d = Description{Family: int32(family), Type: int32(typ), Protocol: int32(proto)}
	return d, nil
}

// MarshalBinary encodes d as three native-order integers; the result is
// always DescriptionLength bytes.
func (d Description) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DescriptionLength)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(d.Family))
	binary.NativeEndian.PutUint32(buf[4:8], uint32(d.Type))
	binary.NativeEndian.PutUint32(buf[8:12], uint32(d.Protocol))
	return buf, nil
}

// UnmarshalBinary is the inverse of MarshalBinary. It fails with
// ErrShortDescription when fewer than DescriptionLength bytes are supplied.
func (d *Description) UnmarshalBinary(b []byte) error {
	if len(b) < DescriptionLength {
		return errors.Wrapf(ErrShortDescription, "got %d bytes, need %d", len(b), DescriptionLength)
	}
	d.Family = int32(binary.NativeEndian.Uint32(b[0:4]))
	d.Type = int32(binary.NativeEndian.Uint32(b[4:8]))
	d.Protocol = int32(binary.NativeEndian.Uint32(b[8:12]))
	return nil
}
