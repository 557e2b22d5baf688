package webrtc

import (
	"hubcom/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// dataChannel adapts a pion data channel. Messages are sent as text since
// every payload is a JSON envelope.
type dataChannel struct {
	dc *webrtc.DataChannel
}

var _ ports.DataChannel = (*dataChannel)(nil)

func newDataChannel(dc *webrtc.DataChannel) *dataChannel {
	return &dataChannel{dc: dc}
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) IsOpen() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (d *dataChannel) Send(payload []byte) error {
	return d.dc.SendText(string(payload))
}

func (d *dataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d *dataChannel) OnClose(fn func()) { d.dc.OnClose(fn) }

func (d *dataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *dataChannel) Close() error { return d.dc.Close() }
