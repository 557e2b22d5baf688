package webrtc

import (
	"sync"
	"sync/atomic"
	"time"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	pliInterval     = 3 * time.Second
	keyframeRefresh = 3000
)

// remoteTrack reads one incoming pion track until it is stopped or the
// peer connection closes. Video tracks ask for key frames with PLI.
type remoteTrack struct {
	track  *webrtc.TrackRemote
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	enabled atomic.Bool
	packets atomic.Uint64
	bytes   atomic.Uint64

	mu       sync.Mutex
	keyframe *keyframeWatch

	stop     chan struct{}
	stopOnce sync.Once
}

var _ ports.MediaTrack = (*remoteTrack)(nil)

func newRemoteTrack(track *webrtc.TrackRemote, pc *webrtc.PeerConnection, logger *zap.SugaredLogger) *remoteTrack {
	t := &remoteTrack{
		track:    track,
		pc:       pc,
		logger:   logger.With("track_id", track.ID()),
		keyframe: newKeyframeWatch(keyframeRefresh),
		stop:     make(chan struct{}),
	}
	t.enabled.Store(true)
	return t
}

func (t *remoteTrack) ID() string { return t.track.ID() }

func (t *remoteTrack) Kind() domain.MediaKind { return kindOf(t.track.Kind()) }

func (t *remoteTrack) Enabled() bool { return t.enabled.Load() }

// SetEnabled on a remote track only controls whether its packets are
// counted and key frames requested.
func (t *remoteTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *remoteTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *remoteTrack) Local() webrtc.TrackLocal { return nil }

// Packets returns the number of RTP packets received while enabled.
func (t *remoteTrack) Packets() uint64 { return t.packets.Load() }

func (t *remoteTrack) read() {
	if t.Kind() == domain.KindVideo {
		go t.requestKeyframes()
	}
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			t.logger.Debugw("remote track ended", "packets", t.packets.Load(), "bytes", t.bytes.Load(), "error", err)
			t.Stop()
			return
		}
		select {
		case <-t.stop:
			return
		default:
		}
		if !t.enabled.Load() {
			continue
		}
		t.packets.Add(1)
		t.bytes.Add(uint64(len(pkt.Payload)))
		if t.Kind() == domain.KindVideo {
			t.mu.Lock()
			t.keyframe.Observe(pkt)
			t.mu.Unlock()
		}
	}
}

func (t *remoteTrack) requestKeyframes() {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}
		if !t.enabled.Load() {
			continue
		}
		t.mu.Lock()
		due := t.keyframe.NeedsKeyframe()
		if due {
			t.keyframe.Requested()
		}
		t.mu.Unlock()
		if !due {
			continue
		}
		pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(t.track.SSRC())}
		if err := t.pc.WriteRTCP([]rtcp.Packet{pli}); err != nil {
			t.logger.Debugw("pli not sent", "error", err)
		}
	}
}
