// Package pcapdump writes captured Ethernet frames to disk in pcap format,
// letting an operator replay a router's traffic through Wireshark or any
// other pcap-reading tool.
package pcapdump

import (
	"fmt"
	"io"
	"sync"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/jonboulle/clockwork"
)

// SnapLen is the maximum number of bytes captured per frame, large enough
// to hold a full 1500-byte Ethernet payload plus header.
const SnapLen = 1600

// Writer appends raw Ethernet frames to a pcap capture file. It is safe for
// concurrent use: frames arrive from both interfaces' receive paths.
type Writer struct {
	mu    sync.Mutex
	w     *pcapgo.Writer
	clock clockwork.Clock
}

// NewWriter writes a pcap file header to dst and returns a Writer ready to
// accept frames. clock supplies each record's timestamp; pass
// clockwork.NewRealClock() outside of tests.
func NewWriter(dst io.Writer, clock clockwork.Clock) (*Writer, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	w := pcapgo.NewWriter(dst)
	if err := w.WriteFileHeader(SnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("pcapdump: writing file header: %w", err)
	}
	return &Writer{w: w, clock: clock}, nil
}

// WriteFrame appends one captured Ethernet frame, truncating it to SnapLen
// if necessary and recording the original length in the record header.
func (w *Writer) WriteFrame(frame []byte) error {
	captured := frame
	if len(captured) > SnapLen {
		captured = captured[:SnapLen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     w.clock.Now(),
		CaptureLength: len(captured),
		Length:        len(frame),
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.WritePacket(ci, captured); err != nil {
		return fmt.Errorf("pcapdump: writing packet: %w", err)
	}
	return nil
}
