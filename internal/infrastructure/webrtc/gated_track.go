package webrtc

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// gatedTrack binds a shared local track to one peer connection. While the
// gate is closed the packets for that connection are dropped; every other
// binding of the track keeps receiving them.
type gatedTrack struct {
	webrtc.TrackLocal
	open atomic.Bool
}

func newGatedTrack(track webrtc.TrackLocal) *gatedTrack {
	g := &gatedTrack{TrackLocal: track}
	g.open.Store(true)
	return g
}

func (g *gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return g.TrackLocal.Bind(gatedContext{TrackLocalContext: ctx, gate: g})
}

func (g *gatedTrack) setOpen(open bool) { g.open.Store(open) }

func (g *gatedTrack) isOpen() bool { return g.open.Load() }

type gatedContext struct {
	webrtc.TrackLocalContext
	gate *gatedTrack
}

func (c gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return gatedWriter{TrackLocalWriter: c.TrackLocalContext.WriteStream(), gate: c.gate}
}

type gatedWriter struct {
	webrtc.TrackLocalWriter
	gate *gatedTrack
}

func (w gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.gate.isOpen() {
		return len(payload), nil
	}
	return w.TrackLocalWriter.WriteRTP(header, payload)
}

func (w gatedWriter) Write(b []byte) (int, error) {
	if !w.gate.isOpen() {
		return len(b), nil
	}
	return w.TrackLocalWriter.Write(b)
}
