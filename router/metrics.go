package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Metrics names.
	MetricNameFramesTotal    = "swrouter_frames_total"
	MetricNameFramesDropped  = "swrouter_frames_dropped_total"
	MetricNameFramesFwd      = "swrouter_frames_forwarded_total"
	MetricNameICMPErrors     = "swrouter_icmp_errors_total"
	MetricNameARPPendingSize = "swrouter_arp_pending_requests"

	// Labels.
	MetricLabelIface  = "iface"
	MetricLabelReason = "reason"
	MetricLabelType   = "type"
)

// Drop reasons reported under MetricLabelReason.
const (
	ReasonShortFrame       = "short_frame"
	ReasonUnknownEtherType = "unknown_ethertype"
	ReasonMalformedARP     = "malformed_arp"
	ReasonUnknownIface     = "unknown_iface"
	ReasonMalformedIPv4    = "malformed_ipv4"
	ReasonBadIPChecksum    = "bad_ip_checksum"
	ReasonMalformedICMP    = "malformed_icmp"
	ReasonBadICMPChecksum  = "bad_icmp_checksum"
	ReasonUnsupportedICMP  = "unsupported_icmp_type"
	ReasonUnsupportedProto = "unsupported_transport"
	ReasonTTLExpired       = "ttl_expired"
	ReasonNoRoute          = "no_route"
	ReasonARPExhausted     = "arp_exhausted"
	ReasonOtherARPOp       = "other_arp_op"
)

var (
	// MetricFramesTotal counts every frame handed to HandleFrame, labeled by ingress interface.
	MetricFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameFramesTotal,
			Help: "Number of frames received by HandleFrame.",
		},
		[]string{MetricLabelIface},
	)

	// MetricFramesDropped counts frames dropped, labeled by drop reason.
	MetricFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameFramesDropped,
			Help: "Number of frames dropped, by reason.",
		},
		[]string{MetricLabelReason},
	)

	// MetricFramesForwarded counts frames successfully forwarded toward a next hop.
	MetricFramesForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameFramesFwd,
			Help: "Number of IPv4 frames forwarded toward a resolved next hop.",
		},
		[]string{MetricLabelIface},
	)

	// MetricICMPErrors counts synthesized ICMP error replies, labeled by type/code description.
	MetricICMPErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameICMPErrors,
			Help: "Number of ICMP error messages synthesized.",
		},
		[]string{MetricLabelType},
	)

	// MetricARPPendingDepth reports the current number of outstanding ARP resolutions.
	MetricARPPendingDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameARPPendingSize,
			Help: "Current number of pending ARP resolution requests.",
		},
	)
)
