package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// fakeNet connects fake peer connections in process. The owning connection
// is carried in the s= line of every description, so a pair is found once
// each side has applied the other's description.
type fakeNet struct {
	mu      sync.Mutex
	pcs     map[string]*fakePC
	seq     int
	failICE bool
	failNew bool
}

func newFakeNet() *fakeNet {
	return &fakeNet{pcs: make(map[string]*fakePC)}
}

func (n *fakeNet) NewPeerConnection([]webrtc.ICEServer) (ports.PeerConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failNew {
		return nil, errors.New("peer connections disabled")
	}
	n.seq++
	pc := &fakePC{net: n, token: fmt.Sprintf("pc%d", n.seq)}
	n.pcs[pc.token] = pc
	return pc, nil
}

func (n *fakeNet) setFailICE(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failICE = fail
}

func (n *fakeNet) lookup(token string) *fakePC {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pcs[token]
}

// closedCount returns how many peer connections were closed.
func (n *fakeNet) closedCount() int {
	n.mu.Lock()
	pcs := make([]*fakePC, 0, len(n.pcs))
	for _, pc := range n.pcs {
		pcs = append(pcs, pc)
	}
	n.mu.Unlock()

	count := 0
	for _, pc := range pcs {
		if pc.isClosed() {
			count++
		}
	}
	return count
}

type fakeMedia struct {
	kind  domain.MediaKind
	track ports.MediaTrack
	dir   domain.Direction
}

type fakePC struct {
	net   *fakeNet
	token string

	mu         sync.Mutex
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	media      []fakeMedia
	channels   []*fakeDC
	candidates []webrtc.ICECandidateInit
	paused     map[domain.MediaKind]bool
	connected  bool
	closed     bool

	onDC    func(ports.DataChannel)
	onCand  func(*webrtc.ICECandidateInit)
	onICE   func(webrtc.ICEConnectionState)
	onTrack func(ports.MediaTrack)
}

func (pc *fakePC) CreateDataChannel(label string) (ports.DataChannel, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	dc := &fakeDC{label: label}
	pc.channels = append(pc.channels, dc)
	return dc, nil
}

func (pc *fakePC) OnDataChannel(fn func(ports.DataChannel)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onDC = fn
}

func (pc *fakePC) AddMedia(kind domain.MediaKind, track ports.MediaTrack, dir domain.Direction) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.media = append(pc.media, fakeMedia{kind: kind, track: track, dir: dir})
	return nil
}

func (pc *fakePC) SetSending(kind domain.MediaKind, send bool) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, m := range pc.media {
		if m.kind == kind && m.track != nil && m.dir.Sends() {
			if pc.paused == nil {
				pc.paused = make(map[domain.MediaKind]bool)
			}
			pc.paused[kind] = !send
			return nil
		}
	}
	return fmt.Errorf("no %s track is sent", kind)
}

// sending reports whether kind has a sent track that is not paused.
func (pc *fakePC) sending(kind domain.MediaKind) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, m := range pc.media {
		if m.kind == kind && m.track != nil && m.dir.Sends() {
			return !pc.paused[kind]
		}
	}
	return false
}

func (pc *fakePC) describe(sdpType webrtc.SDPType) webrtc.SessionDescription {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	lines := []string{"v=0", "o=- 1 1 IN IP4 127.0.0.1", "s=" + pc.token, "t=0 0"}
	if len(pc.media) == 0 {
		lines = append(lines,
			"m=application 9 UDP/DTLS/SCTP webrtc-datachannel",
			"c=IN IP4 0.0.0.0",
			"a=mid:0",
		)
	}
	for i, m := range pc.media {
		// Like pion, an inactive transceiver is offered as recvonly.
		dir := m.dir
		if dir == domain.DirInactive {
			dir = domain.DirRecvOnly
		}
		if dir.Sends() && m.track == nil {
			dir = domain.DirRecvOnly
		}
		lines = append(lines,
			fmt.Sprintf("m=%s 9 UDP/TLS/RTP/SAVPF 96", m.kind),
			"c=IN IP4 0.0.0.0",
			fmt.Sprintf("a=mid:%d", i),
			"a="+string(dir),
		)
	}
	return webrtc.SessionDescription{Type: sdpType, SDP: strings.Join(lines, "\r\n") + "\r\n"}
}

func (pc *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	return pc.describe(webrtc.SDPTypeOffer), nil
}

func (pc *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	pc.mu.Lock()
	hasRemote := pc.remote != nil
	pc.mu.Unlock()
	if !hasRemote {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return pc.describe(webrtc.SDPTypeAnswer), nil
}

func (pc *fakePC) SetLocalDescription(desc webrtc.SessionDescription) error {
	pc.mu.Lock()
	pc.local = &desc
	onCand := pc.onCand
	pc.mu.Unlock()

	if onCand != nil {
		go func() {
			onCand(&webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"})
			onCand(nil)
		}()
	}
	pc.maybeConnect()
	return nil
}

func (pc *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if tokenOf(desc.SDP) == "" {
		return errors.New("malformed description")
	}
	pc.mu.Lock()
	pc.remote = &desc
	pc.mu.Unlock()
	pc.maybeConnect()
	return nil
}

func (pc *fakePC) LocalDescription() *webrtc.SessionDescription {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.local
}

func (pc *fakePC) RemoteDescription() *webrtc.SessionDescription {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.remote
}

func (pc *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.remote == nil {
		return errors.New("no remote description")
	}
	pc.candidates = append(pc.candidates, c)
	return nil
}

func (pc *fakePC) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onCand = fn
}

func (pc *fakePC) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onICE = fn
}

func (pc *fakePC) OnTrack(fn func(ports.MediaTrack)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.onTrack = fn
}

func (pc *fakePC) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.closed = true
	return nil
}

func (pc *fakePC) isClosed() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.closed
}

func (pc *fakePC) remoteCandidates() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.candidates)
}

func (pc *fakePC) ready() (string, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.local == nil || pc.remote == nil || pc.connected || pc.closed {
		return "", false
	}
	return tokenOf(pc.remote.SDP), true
}

// maybeConnect pairs pc with its remote once both sides have both
// descriptions, then reports connectivity from a separate goroutine.
func (pc *fakePC) maybeConnect() {
	partnerToken, ok := pc.ready()
	if !ok {
		return
	}
	partner := pc.net.lookup(partnerToken)
	if partner == nil || partner == pc {
		return
	}
	back, ok := partner.ready()
	if !ok || back != pc.token {
		return
	}

	first, second := pc, partner
	if first.token > second.token {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	if first.connected || second.connected {
		second.mu.Unlock()
		first.mu.Unlock()
		return
	}
	first.connected, second.connected = true, true
	second.mu.Unlock()
	first.mu.Unlock()

	pc.net.mu.Lock()
	failICE := pc.net.failICE
	pc.net.mu.Unlock()

	go link(pc, partner, failICE)
}

func link(a, b *fakePC, failICE bool) {
	if failICE {
		a.fireICE(webrtc.ICEConnectionStateChecking)
		b.fireICE(webrtc.ICEConnectionStateChecking)
		a.fireICE(webrtc.ICEConnectionStateFailed)
		b.fireICE(webrtc.ICEConnectionStateFailed)
		return
	}
	a.fireICE(webrtc.ICEConnectionStateConnected)
	b.fireICE(webrtc.ICEConnectionStateConnected)

	for _, pair := range [][2]*fakePC{{a, b}, {b, a}} {
		from, to := pair[0], pair[1]
		from.mu.Lock()
		channels := append([]*fakeDC(nil), from.channels...)
		media := append([]fakeMedia(nil), from.media...)
		from.mu.Unlock()

		to.mu.Lock()
		onDC, onTrack := to.onDC, to.onTrack
		to.mu.Unlock()

		for _, dc := range channels {
			remote := &fakeDC{label: dc.label}
			dc.pairWith(remote)
			if onDC != nil {
				onDC(remote)
			}
			dc.markOpen()
			remote.markOpen()
		}
		for _, m := range media {
			if m.track == nil || !m.dir.Sends() {
				continue
			}
			if onTrack != nil {
				onTrack(newFakeTrack(m.kind))
			}
		}
	}
}

func (pc *fakePC) fireICE(state webrtc.ICEConnectionState) {
	pc.mu.Lock()
	fn := pc.onICE
	pc.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func tokenOf(sdp string) string {
	for _, line := range strings.Split(sdp, "\r\n") {
		if strings.HasPrefix(line, "s=") {
			return strings.TrimPrefix(line, "s=")
		}
	}
	return ""
}

type fakeDC struct {
	label string

	mu      sync.Mutex
	peer    *fakeDC
	open    bool
	closed  bool
	onOpen  func()
	onClose func()
	onMsg   func([]byte)
}

func (dc *fakeDC) Label() string { return dc.label }

func (dc *fakeDC) IsOpen() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.open
}

func (dc *fakeDC) pairWith(other *fakeDC) {
	dc.mu.Lock()
	dc.peer = other
	dc.mu.Unlock()
	other.mu.Lock()
	other.peer = dc
	other.mu.Unlock()
}

func (dc *fakeDC) markOpen() {
	dc.mu.Lock()
	if dc.open || dc.closed {
		dc.mu.Unlock()
		return
	}
	dc.open = true
	fn := dc.onOpen
	dc.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (dc *fakeDC) Send(payload []byte) error {
	dc.mu.Lock()
	peer, open := dc.peer, dc.open
	dc.mu.Unlock()
	if !open || peer == nil {
		return errors.New("data channel not open")
	}
	peer.deliver(append([]byte(nil), payload...))
	return nil
}

func (dc *fakeDC) deliver(payload []byte) {
	dc.mu.Lock()
	fn, open := dc.onMsg, dc.open
	dc.mu.Unlock()
	if open && fn != nil {
		fn(payload)
	}
}

func (dc *fakeDC) OnOpen(fn func()) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.onOpen = fn
}

func (dc *fakeDC) OnClose(fn func()) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.onClose = fn
}

func (dc *fakeDC) OnMessage(fn func([]byte)) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.onMsg = fn
}

func (dc *fakeDC) Close() error {
	dc.mu.Lock()
	if dc.closed {
		dc.mu.Unlock()
		return nil
	}
	dc.closed = true
	dc.open = false
	peer := dc.peer
	dc.mu.Unlock()

	if peer != nil {
		peer.remoteClosed()
	}
	return nil
}

func (dc *fakeDC) remoteClosed() {
	dc.mu.Lock()
	wasOpen := dc.open
	dc.open = false
	dc.closed = true
	fn := dc.onClose
	dc.mu.Unlock()
	if wasOpen && fn != nil {
		fn()
	}
}

var trackSeq atomic.Int64

type fakeTrack struct {
	id      string
	kind    domain.MediaKind
	enabled atomic.Bool
	stops   atomic.Int32
}

func newFakeTrack(kind domain.MediaKind) *fakeTrack {
	t := &fakeTrack{id: fmt.Sprintf("track%d", trackSeq.Add(1)), kind: kind}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string               { return t.id }
func (t *fakeTrack) Kind() domain.MediaKind   { return t.kind }
func (t *fakeTrack) Enabled() bool            { return t.enabled.Load() }
func (t *fakeTrack) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }
func (t *fakeTrack) Stop()                    { t.stops.Add(1) }
func (t *fakeTrack) Local() webrtc.TrackLocal { return nil }
func (t *fakeTrack) stopped() bool            { return t.stops.Load() > 0 }

type fakeStream struct {
	id    string
	audio []ports.MediaTrack
	video []ports.MediaTrack
	stops atomic.Int32
}

var streamSeq atomic.Int64

func newFakeStream(audio, video int) *fakeStream {
	s := &fakeStream{id: fmt.Sprintf("stream%d", streamSeq.Add(1))}
	for i := 0; i < audio; i++ {
		s.audio = append(s.audio, newFakeTrack(domain.KindAudio))
	}
	for i := 0; i < video; i++ {
		s.video = append(s.video, newFakeTrack(domain.KindVideo))
	}
	return s
}

func (s *fakeStream) ID() string                      { return s.id }
func (s *fakeStream) AudioTracks() []ports.MediaTrack { return s.audio }
func (s *fakeStream) VideoTracks() []ports.MediaTrack { return s.video }
func (s *fakeStream) Stop()                           { s.stops.Add(1) }

// fakeDevices hands out a new stream per capture, with one track per
// requested kind.
type fakeDevices struct {
	mu      sync.Mutex
	calls   int
	fail    bool
	streams []*fakeStream
}

func (d *fakeDevices) GetUserMedia(ctx context.Context, desc domain.MediaDesc) (ports.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.fail {
		return nil, errors.New("no capture device")
	}
	audio, video := 0, 0
	if desc.Audio != nil {
		audio = 1
	}
	if desc.Video != nil {
		video = 1
	}
	s := newFakeStream(audio, video)
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevices) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDevices) captured() []*fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeStream(nil), d.streams...)
}
