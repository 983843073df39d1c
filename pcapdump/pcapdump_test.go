package pcapdump

import (
	"bytes"
	"testing"
	"time"

	"github.com/gopacket/gopacket/pcapgo"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestWriterProducesReadablePcap(t *testing.T) {
	var buf bytes.Buffer
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	w, err := NewWriter(&buf, clock)
	require.NoError(t, err)

	frame := append([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, make([]byte, 40)...)
	require.NoError(t, w.WriteFrame(frame))
	clock.Advance(time.Second)
	require.NoError(t, w.WriteFrame(frame))

	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)

	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	require.Equal(t, len(frame), ci.Length)
	require.Equal(t, frame, data)

	_, ci2, err := r.ReadPacketData()
	require.NoError(t, err)
	require.True(t, ci2.Timestamp.After(ci.Timestamp))

	_, _, err = r.ReadPacketData()
	require.Error(t, err, "expected EOF after two records")
}

func TestWriterTruncatesOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, clockwork.NewFakeClock())
	require.NoError(t, err)

	frame := make([]byte, SnapLen+200)
	require.NoError(t, w.WriteFrame(frame))

	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)
	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	require.Len(t, data, SnapLen)
	require.Equal(t, len(frame), ci.Length)
}
