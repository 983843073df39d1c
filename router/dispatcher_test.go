package router

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/packetgrove/swrouter"
	"github.com/packetgrove/swrouter/arp"
	"github.com/packetgrove/swrouter/arpcache"
	"github.com/packetgrove/swrouter/ethernet"
	"github.com/packetgrove/swrouter/iface"
	"github.com/packetgrove/swrouter/ipv4"
	"github.com/packetgrove/swrouter/ipv4/icmpv4"
	"github.com/packetgrove/swrouter/route"
)

// sentFrame records one call to the fake link layer's send_frame.
type sentFrame struct {
	data  []byte
	iface string
}

type harness struct {
	t        *testing.T
	registry *iface.Registry
	routes   *route.Table
	cache    *arpcache.Cache
	clock    clockwork.FakeClock
	sent     []sentFrame
	d        *Dispatcher
}

func newHarness(t *testing.T, ifaces []iface.Interface, routes []route.Route) *harness {
	t.Helper()
	reg, err := iface.NewRegistry(ifaces)
	require.NoError(t, err)
	tbl := route.NewTable(routes)
	clock := clockwork.NewFakeClock()

	h := &harness{t: t, registry: reg, routes: tbl, clock: clock}
	lookup := func(name string) (arpcache.IfaceInfo, bool) {
		ifc, ok := reg.ByName(name)
		if !ok {
			return arpcache.IfaceInfo{}, false
		}
		return arpcache.IfaceInfo{MAC: ifc.MAC, IP: ifc.Addr.As4()}, true
	}
	h.cache = arpcache.New(lookup, clock)
	h.d = New(reg, tbl, h.cache, h.send, clock)
	return h
}

func (h *harness) send(frame []byte, ifaceName string) error {
	h.sent = append(h.sent, sentFrame{data: append([]byte{}, frame...), iface: ifaceName})
	return nil
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func buildIPv4Frame(t *testing.T, srcMAC, dstMAC [6]byte, srcIP, dstIP [4]byte, ttl uint8, proto swrouter.IPProto, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, 14+20+len(payload))
	efrm, err := ethernet.NewFrame(buf[:14])
	require.NoError(t, err)
	efrm.ClearHeader()
	*efrm.DestinationHardwareAddr() = dstMAC
	*efrm.SourceHardwareAddr() = srcMAC
	efrm.SetEtherType(ethernet.TypeIPv4)

	ifrm, err := ipv4.NewFrame(buf[14:])
	require.NoError(t, err)
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(20 + len(payload)))
	ifrm.SetTTL(ttl)
	ifrm.SetProtocol(proto)
	*ifrm.SourceAddr() = srcIP
	*ifrm.DestinationAddr() = dstIP
	copy(ifrm.Payload(), payload)
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return buf
}

func buildEchoRequest(id, seq uint16, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	icmpfrm, _ := icmpv4.NewFrame(buf)
	icmpfrm.SetType(icmpv4.TypeEcho)
	icmpfrm.SetCode(0)
	echo := icmpv4.FrameEcho{Frame: icmpfrm}
	echo.SetIdentifier(id)
	echo.SetSequenceNumber(seq)
	copy(echo.Data(), data)
	icmpfrm.SetCRC(0)
	var crc swrouter.CRC791
	icmpfrm.CRCWrite(&crc)
	icmpfrm.SetCRC(swrouter.NeverZeroChecksum(crc.Sum16()))
	return buf
}

func eth1() iface.Interface {
	return iface.Interface{Name: "eth1", MAC: [6]byte{0x02, 0, 0, 0, 0, 1}, Addr: netip.MustParseAddr("10.0.1.1"), Mask: netip.MustParseAddr("255.255.255.0")}
}

func eth0() iface.Interface {
	return iface.Interface{Name: "eth0", MAC: [6]byte{0x02, 0, 0, 0, 0, 0}, Addr: netip.MustParseAddr("192.168.2.1"), Mask: netip.MustParseAddr("255.255.255.0")}
}

// Scenario 1: ARP request for us.
func TestARPRequestForUs(t *testing.T) {
	h := newHarness(t, []iface.Interface{eth1()}, nil)
	requesterMAC := [6]byte{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x01}
	requesterIP := [4]byte{10, 0, 1, 50}

	var buf [14 + 28]byte
	eth, _ := ethernet.NewFrame(buf[:14])
	eth.ClearHeader()
	*eth.DestinationHardwareAddr() = ethernet.BroadcastAddr()
	*eth.SourceHardwareAddr() = requesterMAC
	eth.SetEtherType(ethernet.TypeARP)
	_, err := arp.BuildRequest(buf[14:], requesterMAC, requesterIP, [4]byte{10, 0, 1, 1})
	require.NoError(t, err)

	h.d.HandleFrame(buf[:], "eth1")

	require.Len(t, h.sent, 1)
	require.Equal(t, "eth1", h.sent[0].iface)
	outEth, err := ethernet.NewFrame(h.sent[0].data)
	require.NoError(t, err)
	require.Equal(t, ethernet.TypeARP, outEth.EtherTypeOrSize())
	outARP, err := arp.NewFrame(outEth.Payload())
	require.NoError(t, err)
	require.Equal(t, arp.OpReply, outARP.Operation())
	sha, sip := outARP.Sender4()
	require.Equal(t, eth1().MAC, *sha)
	require.Equal(t, [4]byte{10, 0, 1, 1}, *sip)
	tha, tip := outARP.Target4()
	require.Equal(t, requesterMAC, *tha)
	require.Equal(t, requesterIP, *tip)
}

// Scenario 2: echo request to us.
func TestEchoRequestToUs(t *testing.T) {
	h := newHarness(t, []iface.Interface{eth1()}, nil)
	senderMAC := [6]byte{0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x02}
	senderIP := [4]byte{10, 0, 1, 50}

	payload := buildEchoRequest(0x1234, 1, []byte("hello, router"))
	frame := buildIPv4Frame(t, senderMAC, eth1().MAC, senderIP, [4]byte{10, 0, 1, 1}, 64, swrouter.IPProtoICMP, payload)

	h.d.HandleFrame(frame, "eth1")

	require.Len(t, h.sent, 1)
	require.Equal(t, "eth1", h.sent[0].iface)
	outEth, err := ethernet.NewFrame(h.sent[0].data)
	require.NoError(t, err)
	require.Equal(t, senderMAC, *outEth.DestinationHardwareAddr())
	require.Equal(t, eth1().MAC, *outEth.SourceHardwareAddr())

	outIP, err := ipv4.NewFrame(outEth.Payload())
	require.NoError(t, err)
	require.Equal(t, [4]byte{10, 0, 1, 1}, *outIP.SourceAddr())
	require.Equal(t, senderIP, *outIP.DestinationAddr())
	var v swrouter.Validator
	outIP.ValidateExceptCRC(&v)
	outIP.ValidateCRC(&v)
	require.False(t, v.HasError())

	outICMP, err := icmpv4.NewFrame(outIP.Payload())
	require.NoError(t, err)
	require.Equal(t, icmpv4.TypeEchoReply, outICMP.Type())
	require.Equal(t, uint8(0), outICMP.Code())
	var vv swrouter.Validator
	outICMP.ValidateCRC(&vv)
	require.False(t, vv.HasError())
	echo := icmpv4.FrameEcho{Frame: outICMP}
	require.Equal(t, uint16(0x1234), echo.Identifier())
	require.Equal(t, []byte("hello, router"), echo.Data())
}

// Scenario 3: TTL=1 forward triggers a single time-exceeded error, no forwarded packet.
func TestForwardTTLExpired(t *testing.T) {
	h := newHarness(t, []iface.Interface{eth0(), eth1()}, []route.Route{
		{Dest: mustAddr(t, "192.168.2.0"), Mask: mustAddr(t, "255.255.255.0"), Gateway: mustAddr(t, "192.168.2.1"), IfaceName: "eth0"},
	})
	senderMAC := [6]byte{0xaa, 0, 0, 0, 0, 9}
	senderIP := [4]byte{10, 0, 1, 77}
	frame := buildIPv4Frame(t, senderMAC, eth1().MAC, senderIP, [4]byte{192, 168, 2, 5}, 1, swrouter.IPProtoICMP, buildEchoRequest(1, 1, []byte("x")))

	h.d.HandleFrame(frame, "eth1")

	require.Len(t, h.sent, 1)
	require.Equal(t, "eth1", h.sent[0].iface)
	outEth, err := ethernet.NewFrame(h.sent[0].data)
	require.NoError(t, err)
	outIP, err := ipv4.NewFrame(outEth.Payload())
	require.NoError(t, err)
	require.Equal(t, swrouter.IPProtoICMP, outIP.Protocol())
	outICMP, err := icmpv4.NewFrame(outIP.Payload())
	require.NoError(t, err)
	require.Equal(t, icmpv4.TypeTimeExceeded, outICMP.Type())
	require.Equal(t, uint8(icmpv4.CodeExceededInTransit), outICMP.Code())
}

// Scenario 4: forward with a pre-populated ARP cache entry (cache hit).
func TestForwardCacheHit(t *testing.T) {
	h := newHarness(t, []iface.Interface{eth0(), eth1()}, []route.Route{
		{Dest: mustAddr(t, "192.168.2.0"), Mask: mustAddr(t, "255.255.255.0"), Gateway: mustAddr(t, "192.168.2.1"), IfaceName: "eth0"},
	})
	gwMAC := [6]byte{0xaa, 0xbb, 0, 0, 0, 1}
	_, ok := h.cache.Insert(gwMAC, [4]byte{192, 168, 2, 1})
	require.False(t, ok)

	senderMAC := [6]byte{0xaa, 0, 0, 0, 0, 9}
	senderIP := [4]byte{10, 0, 1, 77}
	frame := buildIPv4Frame(t, senderMAC, eth1().MAC, senderIP, [4]byte{192, 168, 2, 5}, 64, swrouter.IPProtoICMP, buildEchoRequest(1, 1, []byte("y")))

	h.d.HandleFrame(frame, "eth1")

	require.Len(t, h.sent, 1)
	require.Equal(t, "eth0", h.sent[0].iface)
	outEth, err := ethernet.NewFrame(h.sent[0].data)
	require.NoError(t, err)
	require.Equal(t, gwMAC, *outEth.DestinationHardwareAddr())
	require.Equal(t, eth0().MAC, *outEth.SourceHardwareAddr())
	outIP, err := ipv4.NewFrame(outEth.Payload())
	require.NoError(t, err)
	require.Equal(t, uint8(63), outIP.TTL())
	var v swrouter.Validator
	outIP.ValidateExceptCRC(&v)
	outIP.ValidateCRC(&v)
	require.False(t, v.HasError())
}

// Scenario 5: forward with an empty ARP cache (cache miss), then exhaustion after 5 ticks.
func TestForwardCacheMissThenExhaustion(t *testing.T) {
	h := newHarness(t, []iface.Interface{eth0(), eth1()}, []route.Route{
		{Dest: mustAddr(t, "192.168.2.0"), Mask: mustAddr(t, "255.255.255.0"), Gateway: mustAddr(t, "192.168.2.1"), IfaceName: "eth0"},
	})
	senderMAC := [6]byte{0xaa, 0, 0, 0, 0, 9}
	senderIP := [4]byte{10, 0, 1, 77}
	frame := buildIPv4Frame(t, senderMAC, eth1().MAC, senderIP, [4]byte{192, 168, 2, 5}, 64, swrouter.IPProtoICMP, buildEchoRequest(1, 1, []byte("z")))

	h.d.HandleFrame(frame, "eth1")
	require.Empty(t, h.sent, "cache miss must not emit a data frame synchronously")
	require.Equal(t, 1, h.cache.PendingDepth())

	h.clock.Advance(time.Second)
	h.d.Tick()
	require.Len(t, h.sent, 1, "first tick should broadcast an ARP request")
	arpFrame, err := ethernet.NewFrame(h.sent[0].data)
	require.NoError(t, err)
	require.Equal(t, ethernet.TypeARP, arpFrame.EtherTypeOrSize())
	require.True(t, arpFrame.IsBroadcast())
	h.sent = nil

	for i := 0; i < 4; i++ {
		h.clock.Advance(time.Second)
		h.d.Tick()
	}
	require.Len(t, h.sent, 4, "4 more retries sent, 5 total, exhausting MaxAttempts")
	h.sent = nil

	// The request has now been retransmitted MaxAttempts times with no reply:
	// the next tick destroys it and emits host-unreachable instead of a retry.
	h.clock.Advance(time.Second)
	h.d.Tick()
	require.Len(t, h.sent, 1)
	outEth, err := ethernet.NewFrame(h.sent[0].data)
	require.NoError(t, err)
	require.Equal(t, senderMAC, *outEth.DestinationHardwareAddr())
	outIP, err := ipv4.NewFrame(outEth.Payload())
	require.NoError(t, err)
	require.Equal(t, senderIP, *outIP.DestinationAddr())
	outICMP, err := icmpv4.NewFrame(outIP.Payload())
	require.NoError(t, err)
	require.Equal(t, icmpv4.TypeDestinationUnreachable, outICMP.Type())
	require.Equal(t, uint8(icmpv4.CodeHostUnreachable), outICMP.Code())
	require.Equal(t, 0, h.cache.PendingDepth())
}

// Scenario 6: no route for the destination.
func TestForwardNoRoute(t *testing.T) {
	h := newHarness(t, []iface.Interface{eth1()}, nil)
	senderMAC := [6]byte{0xaa, 0, 0, 0, 0, 9}
	senderIP := [4]byte{10, 0, 1, 77}
	frame := buildIPv4Frame(t, senderMAC, eth1().MAC, senderIP, [4]byte{8, 8, 8, 8}, 64, swrouter.IPProtoICMP, buildEchoRequest(1, 1, []byte("n")))

	h.d.HandleFrame(frame, "eth1")

	require.Len(t, h.sent, 1)
	outEth, err := ethernet.NewFrame(h.sent[0].data)
	require.NoError(t, err)
	outIP, err := ipv4.NewFrame(outEth.Payload())
	require.NoError(t, err)
	outICMP, err := icmpv4.NewFrame(outIP.Payload())
	require.NoError(t, err)
	require.Equal(t, icmpv4.TypeDestinationUnreachable, outICMP.Type())
	require.Equal(t, uint8(icmpv4.CodeNetUnreachable), outICMP.Code())
}

func TestPortUnreachableForTCPToUs(t *testing.T) {
	h := newHarness(t, []iface.Interface{eth1()}, nil)
	senderMAC := [6]byte{0xaa, 0, 0, 0, 0, 9}
	senderIP := [4]byte{10, 0, 1, 77}
	payload := make([]byte, 8)
	binary.BigEndian.PutUint16(payload[0:2], 5555)
	binary.BigEndian.PutUint16(payload[2:4], 80)
	frame := buildIPv4Frame(t, senderMAC, eth1().MAC, senderIP, [4]byte{10, 0, 1, 1}, 64, swrouter.IPProtoTCP, payload)

	h.d.HandleFrame(frame, "eth1")

	require.Len(t, h.sent, 1)
	outEth, err := ethernet.NewFrame(h.sent[0].data)
	require.NoError(t, err)
	outIP, err := ipv4.NewFrame(outEth.Payload())
	require.NoError(t, err)
	require.Equal(t, [4]byte{10, 0, 1, 1}, *outIP.SourceAddr())
	outICMP, err := icmpv4.NewFrame(outIP.Payload())
	require.NoError(t, err)
	require.Equal(t, icmpv4.TypeDestinationUnreachable, outICMP.Type())
	require.Equal(t, uint8(icmpv4.CodePortUnreachable), outICMP.Code())
}

func TestARPReplyFlushesPendingFrameLIFO(t *testing.T) {
	h := newHarness(t, []iface.Interface{eth0(), eth1()}, []route.Route{
		{Dest: mustAddr(t, "192.168.2.0"), Mask: mustAddr(t, "255.255.255.0"), Gateway: mustAddr(t, "192.168.2.1"), IfaceName: "eth0"},
	})
	senderMAC := [6]byte{0xaa, 0, 0, 0, 0, 9}
	senderIP := [4]byte{10, 0, 1, 77}
	first := buildIPv4Frame(t, senderMAC, eth1().MAC, senderIP, [4]byte{192, 168, 2, 5}, 64, swrouter.IPProtoICMP, buildEchoRequest(1, 1, []byte("first")))
	second := buildIPv4Frame(t, senderMAC, eth1().MAC, senderIP, [4]byte{192, 168, 2, 6}, 64, swrouter.IPProtoICMP, buildEchoRequest(2, 1, []byte("second")))

	h.d.HandleFrame(first, "eth1")
	h.d.HandleFrame(second, "eth1")
	require.Empty(t, h.sent)

	gwMAC := [6]byte{0xaa, 0xbb, 0, 0, 0, 1}
	var buf [14 + 28]byte
	eth, _ := ethernet.NewFrame(buf[:14])
	eth.ClearHeader()
	*eth.SourceHardwareAddr() = gwMAC
	eth.SetEtherType(ethernet.TypeARP)
	req, _ := arp.BuildRequest(make([]byte, 28), eth0().MAC, [4]byte{192, 168, 2, 1}, [4]byte{192, 168, 2, 1})
	_, err := arp.BuildReply(buf[14:], req, gwMAC, [4]byte{192, 168, 2, 1})
	require.NoError(t, err)

	h.d.HandleFrame(buf[:], "eth0")

	require.Len(t, h.sent, 2)
	outIP0, err := ipv4.NewFrame(mustEthPayload(t, h.sent[0].data))
	require.NoError(t, err)
	outIP1, err := ipv4.NewFrame(mustEthPayload(t, h.sent[1].data))
	require.NoError(t, err)
	require.Equal(t, [4]byte{192, 168, 2, 6}, *outIP0.DestinationAddr(), "frames queued behind a resolution flush LIFO")
	require.Equal(t, [4]byte{192, 168, 2, 5}, *outIP1.DestinationAddr())
}

func mustEthPayload(t *testing.T, frame []byte) []byte {
	t.Helper()
	efrm, err := ethernet.NewFrame(frame)
	require.NoError(t, err)
	return efrm.Payload()
}
