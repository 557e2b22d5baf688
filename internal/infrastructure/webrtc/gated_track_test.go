package webrtc

import (
	"context"
	"sync/atomic"
	"testing"

	"hubcom/internal/core/domain"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingWriter struct {
	packets atomic.Int32
}

func (w *countingWriter) WriteRTP(_ *rtp.Header, payload []byte) (int, error) {
	w.packets.Add(1)
	return len(payload), nil
}

func (w *countingWriter) Write(b []byte) (int, error) {
	w.packets.Add(1)
	return len(b), nil
}

type stubTrackContext struct {
	id     string
	writer *countingWriter
}

func (c stubTrackContext) CodecParameters() []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType:        111,
	}}
}

func (c stubTrackContext) HeaderExtensions() []webrtc.RTPHeaderExtensionParameter { return nil }
func (c stubTrackContext) SSRC() webrtc.SSRC                                       { return 1 }
func (c stubTrackContext) WriteStream() webrtc.TrackLocalWriter                    { return c.writer }
func (c stubTrackContext) ID() string                                              { return c.id }
func (c stubTrackContext) RTCPReader() interceptor.RTCPReader                      { return nil }

func TestGatedTrack_ClosedGateOnlyMutesItsConnection(t *testing.T) {
	shared, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "capture")
	require.NoError(t, err)

	first, second := newGatedTrack(shared), newGatedTrack(shared)
	w1, w2 := &countingWriter{}, &countingWriter{}
	_, err = first.Bind(stubTrackContext{id: "sender-1", writer: w1})
	require.NoError(t, err)
	_, err = second.Bind(stubTrackContext{id: "sender-2", writer: w2})
	require.NoError(t, err)

	packet := &rtp.Packet{Header: rtp.Header{Version: 2}, Payload: []byte{1, 2, 3}}
	require.NoError(t, shared.WriteRTP(packet))
	assert.Equal(t, int32(1), w1.packets.Load())
	assert.Equal(t, int32(1), w2.packets.Load())

	first.setOpen(false)
	require.NoError(t, shared.WriteRTP(packet))
	assert.Equal(t, int32(1), w1.packets.Load())
	assert.Equal(t, int32(2), w2.packets.Load())

	first.setOpen(true)
	require.NoError(t, shared.WriteRTP(packet))
	assert.Equal(t, int32(2), w1.packets.Load())
	assert.Equal(t, int32(3), w2.packets.Load())

	require.NoError(t, first.Unbind(stubTrackContext{id: "sender-1"}))
	assert.Equal(t, "audio", first.ID())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, first.Kind())
}

func TestPeerConnection_SetSending(t *testing.T) {
	a, _ := newTestPair(t)
	devices := NewSyntheticDevices(zaptest.NewLogger(t).Sugar())
	stream, err := devices.GetUserMedia(context.Background(), domain.MediaDesc{Audio: &domain.TrackDesc{}})
	require.NoError(t, err)
	defer stream.Stop()

	assert.Error(t, a.SetSending(domain.KindAudio, false), "nothing sent yet")

	require.NoError(t, a.AddMedia(domain.KindAudio, stream.AudioTracks()[0], domain.DirSendRecv))
	require.NoError(t, a.SetSending(domain.KindAudio, false))
	assert.False(t, a.gates[domain.KindAudio].isOpen())
	// the capture keeps running for other connections
	assert.True(t, stream.AudioTracks()[0].Enabled())

	require.NoError(t, a.SetSending(domain.KindAudio, true))
	assert.True(t, a.gates[domain.KindAudio].isOpen())
	assert.Error(t, a.SetSending(domain.KindVideo, false))
}
