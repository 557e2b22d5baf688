package webrtc

import (
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// isVP8Keyframe reports whether pkt starts a VP8 key frame: the first
// packet of partition 0 whose frame tag has the inverse key frame bit clear.
func isVP8Keyframe(pkt *rtp.Packet) bool {
	if pkt == nil || len(pkt.Payload) == 0 {
		return false
	}
	var vp8 codecs.VP8Packet
	if _, err := vp8.Unmarshal(pkt.Payload); err != nil {
		return false
	}
	if vp8.S != 1 || vp8.PID != 0 || len(vp8.Payload) == 0 {
		return false
	}
	return vp8.Payload[0]&0x01 == 0
}

// keyframeWatch decides when a receiver should ask for a key frame. It asks
// until the first key frame arrives and again after every gap of
// refreshAfter packets without one.
type keyframeWatch struct {
	refreshAfter int
	seen         bool
	sinceKey     int
}

func newKeyframeWatch(refreshAfter int) *keyframeWatch {
	return &keyframeWatch{refreshAfter: refreshAfter}
}

// Observe records one received packet.
func (w *keyframeWatch) Observe(pkt *rtp.Packet) {
	if isVP8Keyframe(pkt) {
		w.seen = true
		w.sinceKey = 0
		return
	}
	w.sinceKey++
}

// NeedsKeyframe reports whether a picture loss indication is due.
func (w *keyframeWatch) NeedsKeyframe() bool {
	if !w.seen {
		return true
	}
	return w.refreshAfter > 0 && w.sinceKey >= w.refreshAfter
}

// Requested resets the gap after a picture loss indication was sent.
func (w *keyframeWatch) Requested() {
	if w.seen {
		w.sinceKey = 0
	}
}
