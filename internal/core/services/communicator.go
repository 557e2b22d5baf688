package services

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/engine"
	"hubcom/internal/core/ports"
	"hubcom/pkg/cache"
	"hubcom/pkg/config"
	apperrors "hubcom/pkg/errors"
	"hubcom/pkg/utils"
	"hubcom/pkg/validation"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	supportProbeTimeout = 5 * time.Second
	autoCancelDelay     = time.Second
)

// CommunicatorConfig holds the facade's settings.
type CommunicatorConfig struct {
	Peer       string
	Hub        string
	Servers    []string
	ICEServers []webrtc.ICEServer

	PingWait       time.Duration
	AutoPing       bool
	SessionTimeout time.Duration
	CloseDelay     time.Duration
	CandidateQuiet time.Duration
}

func DefaultCommunicatorConfig() CommunicatorConfig {
	return CommunicatorConfig{
		PingWait:       30 * time.Second,
		AutoPing:       true,
		SessionTimeout: 30 * time.Second,
		CloseDelay:     100 * time.Millisecond,
		CandidateQuiet: 150 * time.Millisecond,
	}
}

// CommunicatorConfigFrom maps the client and webrtc sections of the file
// configuration.
func CommunicatorConfigFrom(cfg *config.Config) CommunicatorConfig {
	out := CommunicatorConfig{
		Peer:           cfg.Client.Peer,
		Hub:            cfg.Client.Hub,
		Servers:        append([]string(nil), cfg.Client.Servers...),
		PingWait:       cfg.Client.PingWait,
		AutoPing:       cfg.Client.AutoPing,
		SessionTimeout: cfg.Client.SessionTimeout,
		CloseDelay:     cfg.Client.CloseDelay,
		CandidateQuiet: cfg.Client.CandidateQuiet,
	}
	for _, s := range cfg.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

func (c *CommunicatorConfig) applyDefaults() {
	def := DefaultCommunicatorConfig()
	if c.PingWait <= 0 {
		c.PingWait = def.PingWait
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.CloseDelay < 0 {
		c.CloseDelay = def.CloseDelay
	}
	if c.CandidateQuiet <= 0 {
		c.CandidateQuiet = def.CandidateQuiet
	}
}

// ErrorEvent is what OnError receives. Code is -1 for missing capabilities,
// -2 for relay connection failures and -3 otherwise.
type ErrorEvent struct {
	Code   int
	Reason string
	Err    error
}

func newErrorEvent(err error) ErrorEvent {
	ev := ErrorEvent{Code: apperrors.ClientCodeGeneric, Reason: err.Error(), Err: err}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		ev.Code = appErr.ClientCode()
		ev.Reason = appErr.Message
	}
	return ev
}

// PeerStateEvent reports a direct channel transition.
type PeerStateEvent struct {
	Peer  string
	State domain.ChannelState
}

// RemoteTrackEvent carries a track received in a media session.
type RemoteTrackEvent struct {
	Session string
	Track   ports.MediaTrack
}

// MediaRequest asks for an outgoing media session. Source, when set, is sent
// instead of the shared local capture.
type MediaRequest struct {
	To     string
	MDesc  domain.MediaDesc
	Source ports.MediaStream
}

// Communicator is the client facade: it owns the relay transport, the peer
// directory and the media sessions. Methods are safe for concurrent use;
// callbacks run on the engine's event queue, one at a time.
type Communicator struct {
	eng        *engine.Engine
	transports ports.TransportFactory
	pcs        ports.PeerConnectionFactory
	devices    ports.MediaDevices
	media      *LocalMedia
	log        *zap.SugaredLogger

	cfg         CommunicatorConfig
	state       domain.NodeState
	id          string
	support     domain.Support
	gen         int
	capReported bool

	transport ports.SignalingTransport
	peers     *PeerDirectory
	sessions  map[string]*MediaSession
	closed    *cache.Cache[struct{}]
	stopPing  func()

	onError           func(ErrorEvent)
	onPeerChange      func([]domain.PeerInfo)
	onMessage         func(*domain.Envelope)
	onMediaRequest    func(domain.CallData)
	onStateChange     func(domain.NodeState)
	onPeerStateChange func(PeerStateEvent)
	onLocalStream     func(ports.MediaStream)
	onSessionChange   func(domain.SessionInfo)
	onRemoteStream    func(RemoteTrackEvent)
}

// NewCommunicator builds a stopped facade. Nil pcs or devices make Start
// report a missing capability.
func NewCommunicator(
	eng *engine.Engine,
	transports ports.TransportFactory,
	pcs ports.PeerConnectionFactory,
	devices ports.MediaDevices,
	cfg CommunicatorConfig,
	logger *zap.SugaredLogger,
) *Communicator {
	cfg.applyDefaults()
	c := &Communicator{
		eng:        eng,
		transports: transports,
		pcs:        pcs,
		devices:    devices,
		media:      NewLocalMedia(),
		log:        logger.With("component", "communicator"),
		cfg:        cfg,
		state:      domain.NodeStopped,
		sessions:   make(map[string]*MediaSession),
	}
	c.peers = NewPeerDirectory(c.newChannel, func(peers []domain.PeerInfo) {
		emit(c.eng, c.onPeerChange, peers)
	})
	return c
}

// Start validates the configuration, probes local capture and connects to
// the relay. It returns once the connection attempt is under way; the node
// reaches started when the relay registers it.
func (c *Communicator) Start(ctx context.Context) error {
	c.eng.Lock()
	defer c.eng.Unlock()
	return c.startLocked(ctx)
}

func (c *Communicator) startLocked(ctx context.Context) error {
	if c.state != domain.NodeStopped {
		return apperrors.NewInvalidStateError(domain.ErrInvalidState, fmt.Sprintf("start in state %s", c.state))
	}
	if c.transports == nil || c.pcs == nil || c.devices == nil {
		err := apperrors.NewCapabilityError("peer connections or media capture unavailable")
		if !c.capReported {
			c.capReported = true
			c.emitError(err)
		}
		return err
	}
	if err := c.validateLocked(); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, err.Error(), http.StatusBadRequest)
	}

	c.gen++
	gen := c.gen
	c.closed = cache.NewCache[struct{}](c.cfg.SessionTimeout)
	c.setState(domain.NodeStarting)

	devices := c.devices
	go func() {
		probeCtx, cancel := context.WithTimeout(ctx, supportProbeTimeout)
		defer cancel()
		support := probeSupport(probeCtx, devices)
		c.eng.Post(func() { c.connect(gen, support) })
	}()
	return nil
}

func (c *Communicator) validateLocked() error {
	if err := validation.ValidatePeerName(c.cfg.Peer); err != nil {
		return err
	}
	if err := validation.ValidateHubName(c.cfg.Hub); err != nil {
		return err
	}
	return validation.ValidateServers(c.cfg.Servers)
}

// probeSupport counts the tracks a full capture yields and releases it.
func probeSupport(ctx context.Context, devices ports.MediaDevices) domain.Support {
	stream, err := devices.GetUserMedia(ctx, domain.MediaDesc{Audio: &domain.TrackDesc{}, Video: &domain.TrackDesc{}})
	if err != nil {
		return domain.Support{}
	}
	defer stream.Stop()
	return domain.Support{Audio: len(stream.AudioTracks()), Video: len(stream.VideoTracks())}
}

func (c *Communicator) connect(gen int, support domain.Support) {
	if gen != c.gen || c.state != domain.NodeStarting {
		return
	}
	c.support = support
	c.log.Infow("capture probed", "audio", support.Audio, "video", support.Video)

	tr := c.transports.NewTransport(ports.TransportConfig{
		Peer:    c.cfg.Peer,
		Hub:     c.cfg.Hub,
		Servers: c.cfg.Servers,
		Support: support,
	})
	tr.OnMessage(func(env *domain.Envelope) {
		if c.transport == tr {
			c.handleRelay(env)
		}
	})
	tr.OnStateChange(func(s domain.TransportState) {
		if c.transport == tr {
			c.transportState(s)
		}
	})
	tr.OnError(func(err error) {
		if c.transport == tr {
			c.emitError(apperrors.NewSendFailedError(err, "relay connection failed"))
		}
	})
	c.transport = tr

	if err := tr.Connect(context.Background()); err != nil {
		c.emitError(apperrors.NewSendFailedError(err, "relay connection failed"))
		c.stopLocked()
	}
}

func (c *Communicator) transportState(s domain.TransportState) {
	switch s {
	case domain.TransportRegistered:
		c.id = c.transport.ID()
		c.setState(domain.NodeStarted)
		c.log.Infow("registered", "id", c.id, "hub", c.cfg.Hub)
		c.startPing()
	case domain.TransportDisconnected:
		c.stopLocked()
	}
}

// Stop ends every session, drops the peers and leaves the relay.
func (c *Communicator) Stop() {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.stopLocked()
}

func (c *Communicator) stopLocked() {
	if c.state == domain.NodeStopped || c.state == domain.NodeStopping {
		return
	}
	c.setState(domain.NodeStopping)
	c.gen++
	c.stopPingLocked()

	for _, id := range c.sessionIDs() {
		_ = c.sessions[id].End()
	}
	c.peers.Clear()
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}
	c.id = ""
	c.eng.Clock().Reset()
	if c.closed != nil {
		c.closed.Stop()
	}
	c.setState(domain.NodeStopped)
}

func (c *Communicator) restartLocked() {
	if c.state == domain.NodeStopped || c.state == domain.NodeStopping {
		return
	}
	c.stopLocked()
	if err := c.startLocked(context.Background()); err != nil {
		c.log.Warnw("restart failed", "error", err)
	}
}

func (c *Communicator) startPing() {
	c.stopPingLocked()
	if !c.cfg.AutoPing || c.state != domain.NodeStarted {
		return
	}
	c.stopPing = c.eng.Every(c.cfg.PingWait, c.pingTick)
}

func (c *Communicator) stopPingLocked() {
	if c.stopPing != nil {
		c.stopPing()
		c.stopPing = nil
	}
}

func (c *Communicator) pingTick() {
	if c.state != domain.NodeStarted {
		return
	}
	c.route("", domain.TypePing, "")
	for _, id := range c.peers.Tick() {
		c.log.Infow("peer evicted", "peer", id, "reason", "ping overdue")
	}
}

// handleRelay dispatches one envelope received from the relay.
func (c *Communicator) handleRelay(env *domain.Envelope) {
	switch env.Type {
	case domain.TypeHi:
		var hello domain.HelloData
		if err := env.DecodeData(&hello); err != nil {
			c.log.Warnw("malformed hi", "from", env.From, "error", err)
		}
		c.peers.Remove(env.From)
		c.addPeer(env.From, hello.Peer, hello.Support)
		c.openChannel(env.From, nil)

	case domain.TypeBye:
		c.peers.Remove(env.From)
		emit(c.eng, c.onMessage, env)

	case domain.TypeSDP:
		var data domain.SDPData
		if err := env.DecodeData(&data); err != nil {
			c.log.Warnw("malformed sdp", "from", env.From, "error", err)
			return
		}
		if !c.peers.Has(env.From) {
			c.addPeer(env.From, data.Peer, data.Support)
		}
		c.openChannel(env.From, &data)

	case domain.TypeCall:
		c.handleCall(env, true)

	case domain.TypePong:
		c.pong(env)
		emit(c.eng, c.onMessage, env)

	default:
		emit(c.eng, c.onMessage, env)
	}
}

// handleDirect dispatches one envelope received over a direct channel.
func (c *Communicator) handleDirect(env *domain.Envelope) {
	switch env.Type {
	case domain.TypeCall:
		c.handleCall(env, false)
	case domain.TypePong:
		c.pong(env)
		emit(c.eng, c.onMessage, env)
	default:
		emit(c.eng, c.onMessage, env)
	}
}

func (c *Communicator) pong(env *domain.Envelope) {
	var pd domain.PongData
	if err := env.DecodeData(&pd); err != nil {
		return
	}
	c.peers.Pong(env.From, pd.Delay)
}

func (c *Communicator) addPeer(id, name string, support *domain.Support) {
	var s domain.Support
	if support != nil {
		s = *support
	}
	if !c.peers.Add(id, name, s) {
		return
	}
	c.log.Infow("peer added", "peer", id, "name", name)
	if c.cfg.AutoPing && c.state == domain.NodeStarted {
		c.route("", domain.TypePing, id)
	}
}

func (c *Communicator) openChannel(id string, remote *domain.SDPData) {
	ch, ok := c.peers.Channel(id)
	if !ok {
		return
	}
	if err := ch.Open(remote); err != nil {
		c.log.Warnw("direct channel negotiation failed", "peer", id, "error", err)
	}
}

func (c *Communicator) newChannel(id string) peerChannel {
	return newDirectChannel(id, channelDeps{
		eng:       c.eng,
		pcs:       c.pcs,
		ice:       c.cfg.ICEServers,
		support:   c.support,
		self:      func() string { return c.id },
		relay:     c.relay,
		quiet:     c.cfg.CandidateQuiet,
		log:       c.log,
		onState:   c.channelState,
		onMessage: c.handleDirect,
		onError:   c.channelError,
	})
}

func (c *Communicator) channelState(peer string, s domain.ChannelState) {
	emit(c.eng, c.onPeerStateChange, PeerStateEvent{Peer: peer, State: s})
	c.peers.ChannelState(peer, s)
}

func (c *Communicator) channelError(peer string, err error) {
	c.log.Warnw("direct channel unavailable, using relay", "peer", peer, "error", err)
	c.emitError(apperrors.NewNegotiationError(err, "direct channel to "+peer+" failed"))
}

// handleCall routes a call message to its session. Only an offer that
// carries a description and no candidate opens a new one; messages for a
// recently closed session are dropped.
func (c *Communicator) handleCall(env *domain.Envelope, viaRelay bool) {
	var call domain.CallData
	if err := env.DecodeData(&call); err != nil {
		c.log.Warnw("malformed call", "from", env.From, "error", err)
		return
	}
	if call.From == "" {
		call.From = env.From
	}

	if s, ok := c.sessions[call.ID]; ok {
		emit(c.eng, c.onMediaRequest, call)
		s.Negotiate(call)
		return
	}
	if c.recentlyClosed(call.ID) {
		c.log.Debugw("late call message dropped", "session", call.ID, "type", call.Type)
		return
	}
	if call.Type != domain.CallOffer || call.ID == "" || call.SDP == nil || call.Conn != nil {
		return
	}
	if viaRelay {
		ch, ok := c.peers.Channel(env.From)
		if !ok || ch.State() != domain.ChannelOpen {
			c.log.Warnw("offer ignored, no direct channel", "from", env.From, "session", call.ID)
			return
		}
	}

	s, err := newIncomingSession(c.sessionDeps(), c.id, call)
	if err != nil {
		c.log.Warnw("incoming session failed", "session", call.ID, "error", err)
		return
	}
	c.sessions[call.ID] = s
	emit(c.eng, c.onMediaRequest, call)
}

func (c *Communicator) recentlyClosed(id string) bool {
	if c.closed == nil {
		return false
	}
	_, ok := c.closed.Get(id)
	return ok
}

func (c *Communicator) sessionDeps() sessionDeps {
	return sessionDeps{
		eng:        c.eng,
		pcs:        c.pcs,
		ice:        c.cfg.ICEServers,
		devices:    c.devices,
		media:      c.media,
		send:       func(call domain.CallData) bool { return c.route(call, domain.TypeCall, call.To) },
		timeout:    c.cfg.SessionTimeout,
		closeDelay: c.cfg.CloseDelay,
		log:        c.log,
		onChange:   c.sessionChanged,
		onRemoteTrack: func(session string, track ports.MediaTrack) {
			emit(c.eng, c.onRemoteStream, RemoteTrackEvent{Session: session, Track: track})
		},
	}
}

func (c *Communicator) sessionChanged(info domain.SessionInfo) {
	if info.State == domain.SessionClosed {
		delete(c.sessions, info.ID)
		if c.closed != nil {
			c.closed.Set(info.ID, struct{}{})
		}
	}
	emit(c.eng, c.onSessionChange, info)
}

func (c *Communicator) relay(data any, msgType, to string) bool {
	if c.transport == nil {
		return false
	}
	return c.transport.Send(data, msgType, to)
}

// route prefers each peer's open direct channel and falls back to the relay.
func (c *Communicator) route(data any, msgType, to string) bool {
	if to != "" {
		if ch, ok := c.peers.Channel(to); ok && ch.State() == domain.ChannelOpen {
			return ch.Send(data, msgType)
		}
		return c.relay(data, msgType, to)
	}
	if c.peers.Len() == 0 {
		return c.relay(data, msgType, "")
	}

	ok := true
	for _, id := range c.peers.IDs() {
		ch, _ := c.peers.Channel(id)
		if ch.State() == domain.ChannelOpen {
			ok = ch.Send(data, msgType) && ok
		} else {
			ok = c.relay(data, msgType, id) && ok
		}
	}
	return ok
}

// Send delivers data to one peer, or to every peer when to is empty.
func (c *Communicator) Send(data any, msgType, to string) bool {
	c.eng.Lock()
	defer c.eng.Unlock()
	if c.state != domain.NodeStarted {
		c.log.Warnw("send before start", "type", msgType)
		return false
	}
	return c.route(data, msgType, to)
}

// MediaRequest opens an outgoing media session and returns its id, or an
// empty string when the session cannot be requested.
func (c *Communicator) MediaRequest(req MediaRequest) string {
	c.eng.Lock()
	defer c.eng.Unlock()

	if c.state != domain.NodeStarted {
		c.log.Warnw("media request before start")
		return ""
	}
	if req.MDesc.Empty() {
		c.log.Warnw("media request without media", "to", req.To)
		return ""
	}
	if err := validation.ValidateConnectionID(req.To); err != nil {
		c.log.Warnw("media request rejected", "error", err)
		return ""
	}
	ch, ok := c.peers.Channel(req.To)
	if !ok {
		c.log.Warnw("media request to unknown peer", "to", req.To)
		return ""
	}
	if ch.State() != domain.ChannelOpen {
		c.log.Warnw("media request without direct channel", "to", req.To)
		return ""
	}

	ts := c.eng.Clock().Now()
	id := utils.SessionID(c.id, ts)
	for c.sessions[id] != nil || c.recentlyClosed(id) {
		ts++
		id = utils.SessionID(c.id, ts)
	}

	s, err := newOutgoingSession(c.sessionDeps(), id, c.id, req.To, req.MDesc, req.Source)
	if err != nil {
		c.log.Warnw("outgoing session failed", "to", req.To, "error", err)
		return ""
	}
	c.sessions[id] = s
	return id
}

// MediaResponse accepts or rejects an incoming offer.
func (c *Communicator) MediaResponse(call domain.CallData, accept bool) error {
	return c.withSession(call.ID, func(s *MediaSession) error {
		if accept {
			return s.Accept()
		}
		return s.Reject()
	})
}

func (c *Communicator) EndSession(id string) error {
	return c.withSession(id, (*MediaSession).End)
}

func (c *Communicator) CancelSession(id string) error {
	return c.withSession(id, (*MediaSession).Cancel)
}

// MuteSession toggles the session's local audio and returns the new state.
func (c *Communicator) MuteSession(id string) (bool, error) {
	var muted bool
	err := c.withSession(id, func(s *MediaSession) error {
		muted = s.ToggleMute()
		return nil
	})
	return muted, err
}

func (c *Communicator) UpdateSession(id string, mdesc domain.MediaDesc) error {
	return c.withSession(id, func(s *MediaSession) error { return s.Update(mdesc) })
}

func (c *Communicator) withSession(id string, fn func(*MediaSession) error) error {
	c.eng.Lock()
	defer c.eng.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return apperrors.NewNotFoundError(domain.ErrSessionNotFound, "session "+id)
	}
	return fn(s)
}

// SetLocalStream captures media, pins it as the shared local stream and
// reports it through OnLocalStream.
func (c *Communicator) SetLocalStream(ctx context.Context, mdesc domain.MediaDesc) error {
	c.eng.Lock()
	defer c.eng.Unlock()
	if c.devices == nil {
		return apperrors.NewCapabilityError("media capture unavailable")
	}
	if mdesc.Empty() {
		return apperrors.NewInvalidInputError("media description selects no media")
	}

	devices := c.devices
	go func() {
		stream, err := devices.GetUserMedia(ctx, mdesc)
		c.eng.Post(func() {
			if err != nil {
				c.emitError(fmt.Errorf("%w: %v", domain.ErrNoMedia, err))
				return
			}
			c.media.Pin(stream)
			emit(c.eng, c.onLocalStream, stream)
		})
	}()
	return nil
}

// FreeLocalStream unpins the shared stream. It stops once no session uses it.
func (c *Communicator) FreeLocalStream() {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.media.Unpin()
}

func (c *Communicator) SetPeer(name string) error {
	c.eng.Lock()
	defer c.eng.Unlock()
	if err := validation.ValidatePeerName(name); err != nil {
		return c.rejectSetting("peer", err)
	}
	c.cfg.Peer = name
	c.restartLocked()
	return nil
}

func (c *Communicator) SetHub(hub string) error {
	c.eng.Lock()
	defer c.eng.Unlock()
	if err := validation.ValidateHubName(hub); err != nil {
		return c.rejectSetting("hub", err)
	}
	c.cfg.Hub = hub
	c.restartLocked()
	return nil
}

func (c *Communicator) SetServers(servers []string) error {
	c.eng.Lock()
	defer c.eng.Unlock()
	if err := validation.ValidateServers(servers); err != nil {
		return c.rejectSetting("servers", err)
	}
	c.cfg.Servers = append([]string(nil), servers...)
	c.restartLocked()
	return nil
}

// SetICEServers applies to peer connections created afterwards.
func (c *Communicator) SetICEServers(servers []webrtc.ICEServer) error {
	c.eng.Lock()
	defer c.eng.Unlock()
	for _, s := range servers {
		for _, u := range s.URLs {
			if err := validation.ValidateICEServerURL(u); err != nil {
				return c.rejectSetting("iceservers", err)
			}
		}
	}
	c.cfg.ICEServers = append([]webrtc.ICEServer(nil), servers...)
	return nil
}

func (c *Communicator) SetPingWait(d time.Duration) error {
	c.eng.Lock()
	defer c.eng.Unlock()
	if err := validation.ValidatePositiveDuration(d, "ping wait"); err != nil {
		return c.rejectSetting("pingwait", err)
	}
	c.cfg.PingWait = d
	if c.stopPing != nil {
		c.startPing()
	}
	return nil
}

func (c *Communicator) SetAutoPing(on bool) {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.cfg.AutoPing = on
	if on {
		c.startPing()
	} else {
		c.stopPingLocked()
	}
}

func (c *Communicator) rejectSetting(name string, err error) error {
	c.log.Warnw("setting rejected, keeping previous value", "setting", name, "error", err)
	return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid "+name, http.StatusBadRequest)
}

func (c *Communicator) ID() string {
	c.eng.Lock()
	defer c.eng.Unlock()
	return c.id
}

func (c *Communicator) State() domain.NodeState {
	c.eng.Lock()
	defer c.eng.Unlock()
	return c.state
}

func (c *Communicator) Support() domain.Support {
	c.eng.Lock()
	defer c.eng.Unlock()
	return c.support
}

func (c *Communicator) Peers() []domain.PeerInfo {
	c.eng.Lock()
	defer c.eng.Unlock()
	return c.peers.Snapshot()
}

func (c *Communicator) Sessions() []domain.SessionInfo {
	c.eng.Lock()
	defer c.eng.Unlock()
	out := make([]domain.SessionInfo, 0, len(c.sessions))
	for _, id := range c.sessionIDs() {
		out = append(out, c.sessions[id].Info())
	}
	return out
}

func (c *Communicator) Session(id string) (domain.SessionInfo, bool) {
	c.eng.Lock()
	defer c.eng.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return domain.SessionInfo{}, false
	}
	return s.Info(), true
}

func (c *Communicator) sessionIDs() []string {
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Communicator) OnError(fn func(ErrorEvent)) {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.onError = fn
}

func (c *Communicator) OnPeerChange(fn func([]domain.PeerInfo)) {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.onPeerChange = fn
}

func (c *Communicator) OnMessage(fn func(*domain.Envelope)) {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.onMessage = fn
}

// OnMediaRequest receives the inbound call messages of live sessions: the
// offer that opens one and the negotiation that follows it. A message with
// Type "offer" and a nil Conn is the request to answer with MediaResponse;
// the other offer messages carry trickled candidates.
func (c *Communicator) OnMediaRequest(fn func(domain.CallData)) {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.onMediaRequest = fn
}

func (c *Communicator) OnStateChange(fn func(domain.NodeState)) {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.onStateChange = fn
}

func (c *Communicator) OnPeerStateChange(fn func(PeerStateEvent)) {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.onPeerStateChange = fn
}

func (c *Communicator) OnLocalStream(fn func(ports.MediaStream)) {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.onLocalStream = fn
}

func (c *Communicator) OnSessionChange(fn func(domain.SessionInfo)) {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.onSessionChange = fn
}

func (c *Communicator) OnRemoteStream(fn func(RemoteTrackEvent)) {
	c.eng.Lock()
	defer c.eng.Unlock()
	c.onRemoteStream = fn
}

func (c *Communicator) setState(s domain.NodeState) {
	if c.state == s {
		return
	}
	c.state = s
	emit(c.eng, c.onStateChange, s)
}

func (c *Communicator) emitError(err error) {
	emit(c.eng, c.onError, newErrorEvent(err))
}

// emit queues fn(v) on the event queue. The callback is read by the caller
// under the engine lock.
func emit[T any](eng *engine.Engine, fn func(T), v T) {
	if fn == nil {
		return
	}
	eng.Emit(func() { fn(v) })
}
