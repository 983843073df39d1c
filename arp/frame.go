package arp

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/packetgrove/swrouter"
	"github.com/packetgrove/swrouter/ethernet"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than 28 bytes, the
// fixed size of an Ethernet/IPv4 ARP packet. This router does not parse or
// build ARP packets for any other hardware/protocol address length combination.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderv4 {
		return Frame{buf: nil}, errShortARP
	}
	return Frame{buf: buf[:sizeHeaderv4]}, nil
}

// Frame encapsulates the raw data of a fixed-size Ethernet/IPv4 ARP packet
// and provides methods for manipulating, validating and retrieving its
// fields. See [RFC826].
//
// [RFC826]: https://tools.ietf.org/html/rfc826
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (afrm Frame) RawData() []byte { return afrm.buf }

// Hardware returns the hardware type and hardware address length fields.
func (afrm Frame) Hardware() (hwType uint16, length uint8) {
	return binary.BigEndian.Uint16(afrm.buf[0:2]), afrm.buf[4]
}

// SetHardware sets the hardware type and hardware address length fields.
func (afrm Frame) SetHardware(hwType uint16, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[0:2], hwType)
	afrm.buf[4] = length
}

// Protocol returns the protocol type and protocol address length fields. See [ethernet.Type].
func (afrm Frame) Protocol() (protoType ethernet.Type, length uint8) {
	return ethernet.Type(binary.BigEndian.Uint16(afrm.buf[2:4])), afrm.buf[5]
}

// SetProtocol sets the protocol type and protocol address length fields. See [Frame.Protocol] and [ethernet.Type].
func (afrm Frame) SetProtocol(protoType ethernet.Type, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[2:4], uint16(protoType))
	afrm.buf[5] = length
}

// Operation returns the ARP header operation field. See [Operation].
func (afrm Frame) Operation() Operation { return Operation(binary.BigEndian.Uint16(afrm.buf[6:8])) }

// SetOperation sets the ARP header operation field. See [Operation].
func (afrm Frame) SetOperation(op Operation) { binary.BigEndian.PutUint16(afrm.buf[6:8], uint16(op)) }

// Sender4 returns pointers to the sender hardware and protocol addresses.
// In an ARP request these identify the host sending the request. In an ARP
// reply these identify the host that the request was looking for.
func (afrm Frame) Sender4() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[8:14]), (*[4]byte)(afrm.buf[14:18])
}

// Target4 returns pointers to the target hardware and protocol addresses.
// In an ARP request the target hardware address is ignored (all zero). In an
// ARP reply it identifies the host that originated the request.
func (afrm Frame) Target4() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[18:24]), (*[4]byte)(afrm.buf[24:28])
}

// ClearHeader zeros out the fixed 8-byte ARP header.
func (afrm Frame) ClearHeader() {
	for i := range afrm.buf[:sizeHeader] {
		afrm.buf[i] = 0
	}
}

// SwapTargetSender exchanges the sender and target hardware/protocol
// address fields in place, the common first step when turning a received
// request into a reply.
func (afrm Frame) SwapTargetSender() {
	senderHW, senderIP := afrm.Sender4()
	targetHW, targetIP := afrm.Target4()
	*senderHW, *targetHW = *targetHW, *senderHW
	*senderIP, *targetIP = *targetIP, *senderIP
}

// ValidateSize checks the frame's declared address-length fields against
// the actual buffer size. It returns a non-nil error on finding an
// inconsistency, and rejects any packet that is not a fixed-size
// Ethernet/IPv4 ARP packet.
func (afrm Frame) ValidateSize(v *swrouter.Validator) {
	_, hlen := afrm.Hardware()
	_, plen := afrm.Protocol()
	if hlen != 6 || plen != 4 || len(afrm.buf) < sizeHeaderv4 {
		v.AddError(errShortARP)
	}
}

func (afrm Frame) String() string {
	hwt, _ := afrm.Hardware()
	ptt, _ := afrm.Protocol()
	senderHW, senderIP := afrm.Sender4()
	targetHW, targetIP := afrm.Target4()
	sender, _ := netip.AddrFromSlice(senderIP[:])
	target, _ := netip.AddrFromSlice(targetIP[:])
	return fmt.Sprintf("ARP %s HW=(%d,SENDER=%s,TARGET=%s) PROTO=(%s,SENDER=%s,TARGET=%s)",
		afrm.Operation().String(), hwt, net.HardwareAddr(senderHW[:]).String(), net.HardwareAddr(targetHW[:]).String(),
		ptt.String(), sender.String(), target.String())
}

// BuildRequest writes a complete ARP request packet into dst, which must be
// at least 28 bytes long, asking who has targetIP. The request's target
// hardware address field is left zeroed, per [RFC826].
func BuildRequest(dst []byte, srcMAC [6]byte, srcIP, targetIP [4]byte) (Frame, error) {
	afrm, err := NewFrame(dst)
	if err != nil {
		return Frame{}, err
	}
	afrm.ClearHeader()
	afrm.SetHardware(HardwareTypeEthernet, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(OpRequest)
	senderHW, senderIP := afrm.Sender4()
	*senderHW = srcMAC
	*senderIP = srcIP
	_, targetAddr := afrm.Target4()
	*targetAddr = targetIP
	return afrm, nil
}

// BuildReply writes a complete ARP reply packet into dst, which must be at
// least 28 bytes long, answering req by asserting that ourIP resolves to
// ourMAC.
func BuildReply(dst []byte, req Frame, ourMAC [6]byte, ourIP [4]byte) (Frame, error) {
	afrm, err := NewFrame(dst)
	if err != nil {
		return Frame{}, err
	}
	afrm.ClearHeader()
	afrm.SetHardware(HardwareTypeEthernet, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(OpReply)
	requesterHW, requesterIP := req.Sender4()
	senderHW, senderIP := afrm.Sender4()
	*senderHW = ourMAC
	*senderIP = ourIP
	targetHW, targetIP := afrm.Target4()
	*targetHW = *requesterHW
	*targetIP = *requesterIP
	return afrm, nil
}
