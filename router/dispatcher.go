// Package router implements the packet dispatcher: the top-level decision
// machine that classifies inbound Ethernet frames and drives the frame
// codec, interface registry, route table and ARP subsystem to produce zero
// or more outbound frames.
//
// A Dispatcher never retains a pointer into a frame buffer past the
// synchronous HandleFrame call that received it: anything that must
// survive the call (a frame deferred behind ARP resolution) is copied
// first, by the arpcache package.
package router

import (
	"bytes"
	"log/slog"
	"net/netip"

	"github.com/jonboulle/clockwork"

	"github.com/packetgrove/swrouter"
	"github.com/packetgrove/swrouter/arp"
	"github.com/packetgrove/swrouter/arpcache"
	"github.com/packetgrove/swrouter/ethernet"
	"github.com/packetgrove/swrouter/iface"
	"github.com/packetgrove/swrouter/internal"
	"github.com/packetgrove/swrouter/ipv4"
	"github.com/packetgrove/swrouter/ipv4/icmpv4"
	"github.com/packetgrove/swrouter/route"
)

// Dispatcher is the packet dispatcher (component E of the router core). The
// zero value is not usable; construct one with New.
type Dispatcher struct {
	registry *iface.Registry
	routes   *route.Table
	arp      *arpcache.Cache
	send     arpcache.Sender
	clock    clockwork.Clock
	log      *slog.Logger
}

// New constructs a Dispatcher. send is the link layer's send_frame
// collaborator; clock supplies the notion of "now" used by Tick, defaulting
// to the real wall clock if nil.
func New(registry *iface.Registry, routes *route.Table, cache *arpcache.Cache, send arpcache.Sender, clock clockwork.Clock) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		registry: registry,
		routes:   routes,
		arp:      cache,
		send:     send,
		clock:    clock,
		log:      slog.Default(),
	}
}

// SetLogger overrides the logger used by the dispatcher, defaulting to slog.Default().
func (d *Dispatcher) SetLogger(log *slog.Logger) { d.log = log }

// HandleFrame is the router core's single entry point: ingress is the name
// of the interface the frame arrived on. The caller retains ownership of
// frame; HandleFrame does not keep a reference to it past this call.
func (d *Dispatcher) HandleFrame(frame []byte, ingress string) {
	MetricFramesTotal.WithLabelValues(ingress).Inc()
	efrm, err := ethernet.NewFrame(frame)
	if err != nil {
		d.drop(ReasonShortFrame)
		return
	}
	var v swrouter.Validator
	efrm.ValidateSize(&v)
	if v.HasError() {
		d.drop(ReasonShortFrame)
		return
	}
	switch efrm.EtherTypeOrSize() {
	case ethernet.TypeARP:
		d.handleARP(efrm, ingress)
	case ethernet.TypeIPv4:
		d.handleIPv4(efrm, ingress)
	default:
		d.drop(ReasonUnknownEtherType)
	}
}

// Tick ages out expired ARP cache entries and advances the ARP subsystem's
// pending resolution requests. It is meant to be driven by a 1Hz ticker.
func (d *Dispatcher) Tick() {
	d.arp.Tick(d.clock.Now(), d.sendFrame)
	MetricARPPendingDepth.Set(float64(d.arp.PendingDepth()))
}

func (d *Dispatcher) drop(reason string) {
	MetricFramesDropped.WithLabelValues(reason).Inc()
	d.log.Debug("router: dropping frame", slog.String("reason", reason))
}

func (d *Dispatcher) sendFrame(frame []byte, ifaceName string) error {
	err := d.send(frame, ifaceName)
	if err != nil {
		d.log.Warn("router: send_frame failed", slog.String("iface", ifaceName), slog.Any("error", err))
	}
	return err
}

//
// ARP path.
//

func (d *Dispatcher) handleARP(efrm ethernet.Frame, ingress string) {
	afrm, err := arp.NewFrame(efrm.Payload())
	if err != nil {
		d.drop(ReasonMalformedARP)
		return
	}
	var v swrouter.Validator
	afrm.ValidateSize(&v)
	if v.HasError() {
		d.drop(ReasonMalformedARP)
		return
	}
	ingressIface, ok := d.registry.ByName(ingress)
	if !ok {
		d.drop(ReasonUnknownIface)
		return
	}

	switch afrm.Operation() {
	case arp.OpRequest:
		d.handleARPRequest(afrm, ingress, ingressIface)
	case arp.OpReply:
		d.handleARPReply(afrm)
	default:
		d.drop(ReasonOtherARPOp)
	}
}

func (d *Dispatcher) handleARPRequest(afrm arp.Frame, ingress string, ingressIface iface.Interface) {
	_, tip := afrm.Target4()
	ourIP := ingressIface.Addr.As4()
	if *tip != ourIP {
		d.drop(ReasonOtherARPOp)
		return
	}
	var buf [14 + 28]byte
	oeth, _ := ethernet.NewFrame(buf[:14])
	oeth.ClearHeader()
	senderHW, _ := afrm.Sender4()
	*oeth.DestinationHardwareAddr() = *senderHW
	*oeth.SourceHardwareAddr() = ingressIface.MAC
	oeth.SetEtherType(ethernet.TypeARP)
	if _, err := arp.BuildReply(buf[14:], afrm, ingressIface.MAC, ourIP); err != nil {
		d.drop(ReasonMalformedARP)
		return
	}
	d.sendFrame(buf[:], ingress)
}

func (d *Dispatcher) handleARPReply(afrm arp.Frame) {
	sha, sip := afrm.Sender4()
	pending, ok := d.arp.Insert(*sha, *sip)
	if !ok {
		return
	}
	d.log.Debug("router: arp resolved", internal.SlogIPv4("ip", *sip), internal.SlogMAC("mac", *sha))
	for _, pf := range pending.Frames {
		d.replayPendingFrame(pf, *sha)
	}
}

func (d *Dispatcher) replayPendingFrame(pf arpcache.PendingFrame, nextHopMAC [6]byte) {
	egressIface, ok := d.registry.ByName(pf.EgressIface)
	if !ok {
		d.log.Warn("router: pending frame references unknown egress interface", slog.String("iface", pf.EgressIface))
		return
	}
	efrm, err := ethernet.NewFrame(pf.Data)
	if err != nil {
		return
	}
	*efrm.DestinationHardwareAddr() = nextHopMAC
	*efrm.SourceHardwareAddr() = egressIface.MAC
	d.sendFrame(pf.Data, pf.EgressIface)
	MetricFramesForwarded.WithLabelValues(pf.EgressIface).Inc()
}

//
// IPv4 path.
//

func (d *Dispatcher) handleIPv4(efrm ethernet.Frame, ingress string) {
	ifrm, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		d.drop(ReasonMalformedIPv4)
		return
	}
	var v swrouter.Validator
	ifrm.ValidateExceptCRC(&v)
	if v.HasError() {
		d.drop(ReasonMalformedIPv4)
		return
	}
	ifrm.ValidateCRC(&v)
	if v.HasError() {
		d.drop(ReasonBadIPChecksum)
		return
	}

	ingressIface, ok := d.registry.ByName(ingress)
	if !ok {
		d.drop(ReasonUnknownIface)
		return
	}

	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	if localIface, ok := d.registry.IsLocalIP(dst); ok {
		d.handleLocal(efrm, ifrm, ingress, localIface)
		return
	}
	d.forward(efrm.RawData(), ifrm, ingress, ingressIface)
}

func (d *Dispatcher) handleLocal(efrm ethernet.Frame, ifrm ipv4.Frame, ingress string, localIface iface.Interface) {
	switch ifrm.Protocol() {
	case swrouter.IPProtoICMP:
		d.handleLocalICMP(efrm, ifrm, ingress)
	case swrouter.IPProtoTCP, swrouter.IPProtoUDP:
		d.sendICMPError(ingress, efrm, ifrm, icmpv4.TypeDestinationUnreachable, uint8(icmpv4.CodePortUnreachable), localIface.Addr.As4())
		d.drop(ReasonUnsupportedProto)
	default:
		d.drop(ReasonUnsupportedProto)
	}
}

func (d *Dispatcher) handleLocalICMP(efrm ethernet.Frame, ifrm ipv4.Frame, ingress string) {
	icmpPayload := ifrm.Payload()
	icmpfrm, err := icmpv4.NewFrame(icmpPayload)
	if err != nil {
		d.drop(ReasonMalformedICMP)
		return
	}
	var v swrouter.Validator
	icmpfrm.ValidateCRC(&v)
	if v.HasError() {
		d.drop(ReasonBadICMPChecksum)
		return
	}
	if icmpfrm.Type() != icmpv4.TypeEcho {
		d.drop(ReasonUnsupportedICMP)
		return
	}
	d.sendEchoReply(efrm, ifrm, ingress)
}

func (d *Dispatcher) sendEchoReply(efrm ethernet.Frame, ifrm ipv4.Frame, ingress string) {
	total := int(ifrm.TotalLength())
	buf := make([]byte, 14+total)
	oeth, _ := ethernet.NewFrame(buf[:14])
	oeth.ClearHeader()
	*oeth.DestinationHardwareAddr() = *efrm.SourceHardwareAddr()
	*oeth.SourceHardwareAddr() = *efrm.DestinationHardwareAddr()
	oeth.SetEtherType(ethernet.TypeIPv4)

	copy(buf[14:], ifrm.RawData()[:total])
	oip, _ := ipv4.NewFrame(buf[14:])
	src := *oip.SourceAddr()
	dst := *oip.DestinationAddr()
	*oip.SourceAddr() = dst
	*oip.DestinationAddr() = src
	oip.SetTTL(64)
	oip.SetCRC(0)
	oip.SetCRC(oip.CalculateHeaderCRC())

	hl := oip.HeaderLength()
	n := icmpv4.BuildEchoReply(buf[14+hl:], buf[14+hl:])
	if n == 0 {
		d.drop(ReasonMalformedICMP)
		return
	}
	d.sendFrame(buf, ingress)
}

// forward rewrites and routes an IPv4 frame not addressed to the router
// itself. frame is the original, unmodified buffer handed to HandleFrame;
// forward copies it before mutating TTL, checksum or Ethernet addresses, so
// the original is never touched in place.
func (d *Dispatcher) forward(frame []byte, ifrmView ipv4.Frame, ingress string, ingressIface iface.Interface) {
	total := 14 + int(ifrmView.TotalLength())
	if total > len(frame) {
		d.drop(ReasonMalformedIPv4)
		return
	}
	buf := bytes.Clone(frame[:total])
	efrm, _ := ethernet.NewFrame(buf)
	ifrm, _ := ipv4.NewFrame(efrm.Payload())

	ttl := ifrm.TTL()
	if ttl == 0 {
		d.drop(ReasonMalformedIPv4)
		return
	}
	newTTL := ttl - 1
	ifrm.SetTTL(newTTL)
	ifrm.SetCRC(0)
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	if newTTL == 0 {
		d.sendICMPError(ingress, efrm, ifrm, icmpv4.TypeTimeExceeded, uint8(icmpv4.CodeExceededInTransit), ingressIface.Addr.As4())
		d.drop(ReasonTTLExpired)
		return
	}

	dst := netip.AddrFrom4(*ifrm.DestinationAddr())
	rt, ok := d.routes.LongestPrefixMatch(dst)
	if !ok {
		d.sendICMPError(ingress, efrm, ifrm, icmpv4.TypeDestinationUnreachable, uint8(icmpv4.CodeNetUnreachable), ingressIface.Addr.As4())
		d.drop(ReasonNoRoute)
		return
	}
	egressIface, ok := d.registry.ByName(rt.IfaceName)
	if !ok {
		d.drop(ReasonUnknownIface)
		return
	}

	nextHop := dst
	if rt.Gateway.IsValid() && rt.Gateway != netip.IPv4Unspecified() {
		nextHop = rt.Gateway
	}
	nextHop4 := nextHop.As4()

	if mac, ok := d.arp.Lookup(nextHop4); ok {
		*efrm.DestinationHardwareAddr() = mac
		*efrm.SourceHardwareAddr() = egressIface.MAC
		d.sendFrame(buf, rt.IfaceName)
		MetricFramesForwarded.WithLabelValues(rt.IfaceName).Inc()
		return
	}
	d.arp.Queue(nextHop4, buf, ingress, rt.IfaceName)
}

// sendICMPError synthesizes a type-3/type-11 ICMP error addressed back to
// origIP's source, leaving on ingress with source address srcIP, and sends
// it via the dispatcher's Sender.
func (d *Dispatcher) sendICMPError(ingress string, origEth ethernet.Frame, origIP ipv4.Frame, t icmpv4.Type, code uint8, srcIP [4]byte) {
	ingressIface, ok := d.registry.ByName(ingress)
	if !ok {
		return
	}
	var buf [14 + 20 + 8 + 28]byte
	oeth, _ := ethernet.NewFrame(buf[:14])
	oeth.ClearHeader()
	*oeth.DestinationHardwareAddr() = *origEth.SourceHardwareAddr()
	*oeth.SourceHardwareAddr() = ingressIface.MAC
	oeth.SetEtherType(ethernet.TypeIPv4)

	oip, _ := ipv4.NewFrame(buf[14 : 14+20])
	oip.ClearHeader()
	oip.SetVersionAndIHL(4, 5)
	oip.SetTotalLength(20 + 8 + 28)
	oip.SetFlags(ipv4.Flags(0x4000)) // DF
	oip.SetTTL(64)
	oip.SetProtocol(swrouter.IPProtoICMP)
	*oip.SourceAddr() = srcIP
	*oip.DestinationAddr() = *origIP.SourceAddr()
	oip.SetCRC(0)
	oip.SetCRC(oip.CalculateHeaderCRC())

	n := icmpv4.BuildError(buf[14+20:], t, code, origIP.RawData())
	if n == 0 {
		return
	}
	d.sendFrame(buf[:14+20+n], ingress)
	MetricICMPErrors.WithLabelValues(icmpErrorLabel(t, code)).Inc()
}

func icmpErrorLabel(t icmpv4.Type, code uint8) string {
	switch {
	case t == icmpv4.TypeTimeExceeded:
		return "time_exceeded"
	case t == icmpv4.TypeDestinationUnreachable && code == uint8(icmpv4.CodeNetUnreachable):
		return "net_unreachable"
	case t == icmpv4.TypeDestinationUnreachable && code == uint8(icmpv4.CodeHostUnreachable):
		return "host_unreachable"
	case t == icmpv4.TypeDestinationUnreachable && code == uint8(icmpv4.CodePortUnreachable):
		return "port_unreachable"
	default:
		return "other"
	}
}
