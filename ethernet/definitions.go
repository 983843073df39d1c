package ethernet

import (
	"strconv"
)

const (
	sizeHeader = 14
	// minPayload is the minimum payload size for an Ethernet II frame.
	minPayload = 46
)

// AppendAddr appends the text representation of the hardware address to the destination buffer.
func AppendAddr(dst []byte, hwAddr [6]byte) []byte {
	for i, b := range hwAddr {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst
}

// BroadcastAddr returns the all 0xff's broadcast hardware/MAC/EUI/OUI address.
func BroadcastAddr() [6]byte {
	return [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

// Type is the EtherType/Size field of an Ethernet II frame.
type Type uint16

// IsSize returns true if the EtherType is actually the size of the payload
// and should NOT be interpreted as an EtherType.
func (et Type) IsSize() bool { return et <= 1500 }

// Ethernet type flags.
const (
	TypeIPv4      Type = 0x0800 // IPv4
	TypeARP       Type = 0x0806 // ARP
	TypeWakeOnLAN Type = 0x0842 // wake on LAN
	TypeRARP      Type = 0x8035 // RARP
	TypeIPv6      Type = 0x86DD // IPv6
	TypeVLAN      Type = 0x8100 // 802.1Q VLAN, rejected by this router
)

// String returns the common name of the EtherType or its numeric value if unrecognized.
func (et Type) String() string {
	switch et {
	case TypeIPv4:
		return "IPv4"
	case TypeARP:
		return "ARP"
	case TypeWakeOnLAN:
		return "WakeOnLAN"
	case TypeRARP:
		return "RARP"
	case TypeIPv6:
		return "IPv6"
	case TypeVLAN:
		return "VLAN"
	default:
		if et.IsSize() {
			return "size(" + strconv.Itoa(int(et)) + ")"
		}
		return "EtherType(0x" + strconv.FormatUint(uint64(et), 16) + ")"
	}
}
