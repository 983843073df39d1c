package ethernet

import (
	"encoding/binary"
	"errors"

	"github.com/packetgrove/swrouter"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than 14 bytes.
// Users should still call [Frame.ValidateSize] before working
// with the payload of a frame to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{buf: nil}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an Ethernet II frame
// without including preamble (first byte is start of destination address)
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [IEEE 802.3].
//
// VLAN tagging (802.1Q) is not supported: a frame whose EtherType field
// reads as [TypeVLAN] is rejected at validation time rather than parsed.
//
// [IEEE 802.3]: https://standards.ieee.org/ieee/802.3/7071/
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (efrm Frame) RawData() []byte { return efrm.buf }

// HeaderLength returns the length of the ethernet header, always 14.
func (efrm Frame) HeaderLength() int { return sizeHeader }

// Payload returns the data portion of the ethernet frame.
func (efrm Frame) Payload() []byte {
	et := efrm.EtherTypeOrSize()
	if et.IsSize() {
		return efrm.buf[sizeHeader : sizeHeader+int(et)]
	}
	return efrm.buf[sizeHeader:]
}

// DestinationHardwareAddr returns the target's MAC/hardware address for the ethernet frame.
func (efrm Frame) DestinationHardwareAddr() (dst *[6]byte) {
	return (*[6]byte)(efrm.buf[0:6])
}

// IsBroadcast returns true if the destination is the broadcast address ff:ff:ff:ff:ff:ff, false otherwise.
func (efrm Frame) IsBroadcast() bool {
	return efrm.buf[0] == 0xff && efrm.buf[1] == 0xff && efrm.buf[2] == 0xff &&
		efrm.buf[3] == 0xff && efrm.buf[4] == 0xff && efrm.buf[5] == 0xff
}

// SourceHardwareAddr returns the sender's MAC/hardware address of the ethernet frame.
func (efrm Frame) SourceHardwareAddr() (src *[6]byte) {
	return (*[6]byte)(efrm.buf[6:12])
}

// EtherTypeOrSize returns the EtherType/Size field of the ethernet frame.
// Caller should check if the field is actually a valid EtherType or if it represents the Ethernet payload size with [Type.IsSize].
func (efrm Frame) EtherTypeOrSize() Type {
	return Type(binary.BigEndian.Uint16(efrm.buf[12:14]))
}

// SetEtherType sets the EtherType field of the ethernet frame. See [Type] and [Frame.EtherTypeOrSize].
func (efrm Frame) SetEtherType(v Type) {
	binary.BigEndian.PutUint16(efrm.buf[12:14], uint16(v))
}

// ClearHeader zeros out the fixed header contents.
func (efrm Frame) ClearHeader() {
	for i := range efrm.buf[:sizeHeader] {
		efrm.buf[i] = 0
	}
}

//
// Validation API.
//

var (
	errShort    = errors.New("ethernet: too short")
	errVLANSeen = errors.New("ethernet: VLAN tagged frame unsupported")
)

// ValidateSize checks the frame's size fields against the actual buffer
// backing the frame, and rejects VLAN-tagged frames outright since this
// router does not parse 802.1Q tags. It returns a non-nil error on finding
// an inconsistency.
func (efrm Frame) ValidateSize(v *swrouter.Validator) {
	sz := efrm.EtherTypeOrSize()
	if sz == TypeVLAN {
		v.AddError(errVLANSeen)
		return
	}
	if sz.IsSize() && len(efrm.buf) < sizeHeader+int(sz) {
		v.AddError(errShort)
	}
}
