// Package icmpv4 implements ICMP for IPv4 framing, including the
// destination-unreachable and time-exceeded error messages a router
// synthesizes while forwarding traffic. See [RFC792].
//
// [RFC792]: https://tools.ietf.org/html/rfc792
package icmpv4

import (
	"encoding/binary"
	"errors"

	"github.com/packetgrove/swrouter"
)

type Type uint8

const (
	TypeEchoReply Type = 0 // echo reply
	TypeEcho      Type = 8 // echo

	TypeDestinationUnreachable Type = 3 // destination unreachable
	TypeSourceQuench           Type = 4 // source quench
	TypeRedirect               Type = 5 // redirect

	TypeTimeExceeded     Type = 11 // time exceeded
	TypeParameterProblem Type = 12 // parameter problem

	TypeTimestamp      Type = 13 // timestamp
	TypeTimestampReply Type = 14 // timestamp reply

	TypeInfoRequest      Type = 15 // information request
	TypeInfoRequestReply Type = 16 // information request reply
)

type CodeTimeExceeded uint8

const (
	CodeExceededInTransit  CodeTimeExceeded = iota // TTL exceeded in transit
	CodeFragmentReassembly                         // fragment reassembly time exceeded
)

type CodeDestinationUnreachable uint8

const (
	CodeNetUnreachable     CodeDestinationUnreachable = iota // net unreachable
	CodeHostUnreachable                                      // host unreachable
	CodeProtoUnreachable                                     // protocol unreachable
	CodePortUnreachable                                      // port unreachable
	CodeFragNeededAndDFSet                                   // fragmentation needed and DF set
	CodeSourceRouteFailed                                    // source route failed
)

type CodeRedirect uint8

const (
	CodeRedirectForNetwork       CodeRedirect = iota // redirect for network
	CodeRedirectForHost                              // redirect for host
	CodeRedirectForToSAndNetwork                     // redirect for ToS+network
	CodeRedirectToSAndHost                           // redirect for ToS+host
)

// dataSize is the number of bytes of the offending IP packet copied into a
// type-3/type-11 error message body: the original IP header (assumed no
// options, 20 bytes) plus the first 8 bytes of its payload, as specified by
// RFC792 and mirrored by the original reference router.
const dataSize = 28

var (
	errShortFrame = errors.New("icmpv4: short frame")
	errBadCRC     = errors.New("icmpv4: bad checksum")
)

// ValidateCRC recomputes the ICMP checksum over frm's current contents and
// compares it against the CRC field.
func (frm Frame) ValidateCRC(v *swrouter.Validator) {
	var crc swrouter.CRC791
	frm.CRCWrite(&crc)
	if swrouter.NeverZeroChecksum(crc.Sum16()) != frm.CRC() {
		v.AddError(errBadCRC)
	}
}

func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < 8 {
		return Frame{}, errShortFrame
	}
	return Frame{buf: buf}, nil
}

type Frame struct {
	buf []byte
}

func (frm Frame) RawData() []byte { return frm.buf }

func (frm Frame) Type() Type { return Type(frm.buf[0]) }

func (frm Frame) SetType(t Type) { frm.buf[0] = uint8(t) }

func (frm Frame) Code() uint8 { return frm.buf[1] }

func (frm Frame) SetCode(code uint8) { frm.buf[1] = code }

// CRC returns the checksum field of the frame.
func (frm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(frm.buf[2:4])
}

// SetCRC sets the checksum field of the frame.
func (frm Frame) SetCRC(crc uint16) {
	binary.BigEndian.PutUint16(frm.buf[2:4], crc)
}

// CRCWrite calculates the checksum of the ICMP packet. Treats the checksum field as zero as per RFC792.
func (frm Frame) CRCWrite(crc *swrouter.CRC791) {
	crc.AddUint16(binary.BigEndian.Uint16(frm.buf[0:2]))
	crc.Write(frm.buf[4:])
}

type FrameDestinationUnreachable struct {
	Frame
}

func (frm FrameDestinationUnreachable) Code() CodeDestinationUnreachable {
	return CodeDestinationUnreachable(frm.Frame.Code())
}

func (frm FrameDestinationUnreachable) SetCode(code CodeDestinationUnreachable) {
	frm.Frame.SetCode(uint8(code))
}

// Data returns the portion of the offending IP datagram copied into this
// error message, following the 4 reserved bytes after the ICMP header.
func (frm FrameDestinationUnreachable) Data() []byte {
	return frm.buf[8:]
}

type FrameTimeExceeded struct {
	Frame
}

func (frm FrameTimeExceeded) Code() CodeTimeExceeded {
	return CodeTimeExceeded(frm.Frame.Code())
}

func (frm FrameTimeExceeded) SetCode(code CodeTimeExceeded) {
	frm.Frame.SetCode(uint8(code))
}

// Data returns the portion of the offending IP datagram copied into this
// error message, following the 4 reserved bytes after the ICMP header.
func (frm FrameTimeExceeded) Data() []byte {
	return frm.buf[8:]
}

type FrameEcho struct {
	Frame
}

func (frm FrameEcho) Identifier() uint16 {
	return binary.BigEndian.Uint16(frm.buf[4:6])
}

func (frm FrameEcho) SetIdentifier(id uint16) {
	binary.BigEndian.PutUint16(frm.buf[4:6], id)
}

func (frm FrameEcho) SequenceNumber() uint16 {
	return binary.BigEndian.Uint16(frm.buf[6:8])
}

func (frm FrameEcho) SetSequenceNumber(seq uint16) {
	binary.BigEndian.PutUint16(frm.buf[6:8], seq)
}

func (frm FrameEcho) Data() []byte {
	return frm.buf[8:]
}

func (frm FrameEcho) RawData() []byte {
	return frm.buf
}

// BuildEchoReply writes a complete ICMP echo reply into dst, mirroring the
// identifier, sequence number and full data payload of originalEcho (an
// inbound ICMP echo request frame). It returns the number of bytes written,
// or 0 if dst is too small. The full original payload is copied rather than
// a fixed-size struct, matching the reference router's type-0 handling.
func BuildEchoReply(dst, originalEcho []byte) int {
	n := len(originalEcho)
	if len(dst) < n || n < 8 {
		return 0
	}
	reply := FrameEcho{Frame{buf: dst[:n]}}
	req := FrameEcho{Frame{buf: originalEcho}}
	reply.SetType(TypeEchoReply)
	reply.SetCode(0)
	reply.SetIdentifier(req.Identifier())
	reply.SetSequenceNumber(req.SequenceNumber())
	copy(reply.Data(), req.Data())
	reply.SetCRC(0)
	var crc swrouter.CRC791
	reply.CRCWrite(&crc)
	reply.SetCRC(swrouter.NeverZeroChecksum(crc.Sum16()))
	return n
}

// BuildError writes a complete ICMP destination-unreachable (type 3) or
// time-exceeded (type 11) message into dst, which must be at least
// 8+dataSize bytes long. originalIPPacket is the offending IP datagram (as
// received, header first); only its header plus the first 8 bytes of
// payload are copied into the error body, per RFC792. It returns the number
// of bytes written, or 0 if dst is too small or t is not an error type this
// function knows how to build.
func BuildError(dst []byte, t Type, code uint8, originalIPPacket []byte) int {
	if t != TypeDestinationUnreachable && t != TypeTimeExceeded {
		return 0
	}
	const n = 8 + dataSize
	if len(dst) < n {
		return 0
	}
	frm := Frame{buf: dst[:n]}
	frm.SetType(t)
	frm.SetCode(code)
	binary.BigEndian.PutUint32(frm.buf[4:8], 0) // unused/reserved word, must be zero.
	data := frm.buf[8 : 8+dataSize]
	ncopy := copy(data, originalIPPacket)
	for i := ncopy; i < dataSize; i++ {
		data[i] = 0
	}
	frm.SetCRC(0)
	var crc swrouter.CRC791
	frm.CRCWrite(&crc)
	frm.SetCRC(swrouter.NeverZeroChecksum(crc.Sum16()))
	return n
}
