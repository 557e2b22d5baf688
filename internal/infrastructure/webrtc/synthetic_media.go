package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/ports"

	"github.com/lucsky/cuid"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	rtpMTU         = 1200
	audioFrame     = 20 * time.Millisecond
	videoFrame     = 33 * time.Millisecond
	opusClockRate  = 48000
	vp8ClockRate   = 90000
	keyframeEvery  = 90
	syntheticWidth = 16
)

// opusSilence is one 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticDevices captures generated media instead of real devices: Opus
// silence for audio and a tiny VP8 picture for video. It lets the client
// run headless.
type SyntheticDevices struct {
	logger *zap.SugaredLogger
}

var _ ports.MediaDevices = (*SyntheticDevices)(nil)

func NewSyntheticDevices(logger *zap.SugaredLogger) *SyntheticDevices {
	return &SyntheticDevices{logger: logger}
}

func (d *SyntheticDevices) GetUserMedia(ctx context.Context, desc domain.MediaDesc) (ports.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if desc.Empty() {
		return nil, fmt.Errorf("%w: no media kind requested", domain.ErrNoMedia)
	}

	stream := &localStream{id: cuid.New()}
	if desc.Audio != nil {
		track, err := newLocalTrack(stream.id, domain.KindAudio, d.logger)
		if err != nil {
			return nil, err
		}
		stream.audio = append(stream.audio, track)
	}
	if desc.Video != nil {
		track, err := newLocalTrack(stream.id, domain.KindVideo, d.logger)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.video = append(stream.video, track)
	}
	for _, t := range stream.tracks() {
		go t.run()
	}
	d.logger.Debugw("synthetic capture started", "stream", stream.id, "audio", len(stream.audio), "video", len(stream.video))
	return stream, nil
}

type localStream struct {
	id    string
	audio []ports.MediaTrack
	video []ports.MediaTrack
}

var _ ports.MediaStream = (*localStream)(nil)

func (s *localStream) ID() string                      { return s.id }
func (s *localStream) AudioTracks() []ports.MediaTrack { return s.audio }
func (s *localStream) VideoTracks() []ports.MediaTrack { return s.video }

func (s *localStream) tracks() []*localTrack {
	var out []*localTrack
	for _, t := range append(append([]ports.MediaTrack(nil), s.audio...), s.video...) {
		out = append(out, t.(*localTrack))
	}
	return out
}

func (s *localStream) Stop() {
	for _, t := range s.tracks() {
		t.Stop()
	}
}

// localTrack writes generated frames into a pion static RTP track. A
// disabled track keeps its timing but sends nothing.
type localTrack struct {
	id     string
	kind   domain.MediaKind
	track  *webrtc.TrackLocalStaticRTP
	logger *zap.SugaredLogger

	enabled atomic.Bool
	frames  atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

var _ ports.MediaTrack = (*localTrack)(nil)

func newLocalTrack(streamID string, kind domain.MediaKind, logger *zap.SugaredLogger) (*localTrack, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
	if kind == domain.KindVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: vp8ClockRate}
	}
	id := cuid.New()
	track, err := webrtc.NewTrackLocalStaticRTP(capability, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	t := &localTrack{
		id:     id,
		kind:   kind,
		track:  track,
		logger: logger.With("track_id", id, "kind", kind),
		stop:   make(chan struct{}),
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *localTrack) ID() string               { return t.id }
func (t *localTrack) Kind() domain.MediaKind   { return t.kind }
func (t *localTrack) Enabled() bool            { return t.enabled.Load() }
func (t *localTrack) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }
func (t *localTrack) Local() webrtc.TrackLocal { return t.track }
func (t *localTrack) Stop()                    { t.stopOnce.Do(func() { close(t.stop) }) }
func (t *localTrack) Frames() uint64           { return t.frames.Load() }
func (t *localTrack) stopped() <-chan struct{} { return t.stop }

func (t *localTrack) run() {
	interval, clockRate := audioFrame, uint32(opusClockRate)
	var payloader rtp.Payloader = &codecs.OpusPayloader{}
	if t.kind == domain.KindVideo {
		interval, clockRate = videoFrame, uint32(vp8ClockRate)
		payloader = &codecs.VP8Payloader{}
	}
	packetizer := rtp.NewPacketizer(rtpMTU, 0, 0, payloader, rtp.NewRandomSequencer(), clockRate)
	samples := uint32(interval.Seconds() * float64(clockRate))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var n uint64
	for {
		select {
		case <-t.stop:
			t.logger.Debugw("synthetic track stopped", "frames", t.frames.Load())
			return
		case <-ticker.C:
		}
		frame := t.frame(n)
		n++
		if !t.enabled.Load() {
			packetizer.SkipSamples(samples)
			continue
		}
		for _, pkt := range packetizer.Packetize(frame, samples) {
			if err := t.track.WriteRTP(pkt); err != nil {
				t.logger.Debugw("rtp write failed", "error", err)
			}
		}
		t.frames.Add(1)
	}
}

func (t *localTrack) frame(n uint64) []byte {
	if t.kind == domain.KindAudio {
		return opusSilence
	}
	return vp8Frame(n%keyframeEvery == 0)
}

// vp8Frame builds a minimal VP8 frame: the 3-byte frame tag, and for key
// frames the start code and a 16x16 size, followed by zero padding.
func vp8Frame(key bool) []byte {
	const partitionSize = 16
	frame := make([]byte, 0, 10+partitionSize)
	tag := uint32(partitionSize) << 5
	tag |= 1 << 4 // show_frame
	if !key {
		tag |= 1
	}
	frame = append(frame, byte(tag), byte(tag>>8), byte(tag>>16))
	if key {
		frame = append(frame, 0x9d, 0x01, 0x2a,
			byte(syntheticWidth), byte(syntheticWidth>>8),
			byte(syntheticWidth), byte(syntheticWidth>>8))
	}
	return append(frame, make([]byte, partitionSize)...)
}
