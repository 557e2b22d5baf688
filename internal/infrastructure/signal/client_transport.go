package signal

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/engine"
	"hubcom/internal/core/ports"
	"hubcom/pkg/circuitbreaker"
	"hubcom/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	errAlreadyConnected = errors.New("transport already started")
	errNoServers        = errors.New("no relay servers configured")
)

// ClientTransportOptions tunes the client side of the relay connection.
type ClientTransportOptions struct {
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
	BeaconInterval   time.Duration
	FailoverAttempts int
	RetryDelay       time.Duration
	InsecureTLS      bool
	// Breakers, when set, skips relay servers that keep refusing dials.
	Breakers         *circuitbreaker.Group
}

func DefaultClientTransportOptions() ClientTransportOptions {
	return ClientTransportOptions{
		DialTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		BeaconInterval:   25 * time.Second,
		FailoverAttempts: 3,
		RetryDelay:       500 * time.Millisecond,
	}
}

// ClientTransport is the client's registration and message path through the
// relay. Reads run on their own goroutine and are posted onto the engine
// loop; callbacks therefore run with the engine lock held.
type ClientTransport struct {
	eng  *engine.Engine
	cfg  ports.TransportConfig
	opts ClientTransportOptions
	log  *zap.SugaredLogger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    domain.TransportState
	id       string
	idx      int
	gen      int
	cancel   context.CancelFunc
	stopBeat func()

	onMessage func(env *domain.Envelope)
	onState   func(state domain.TransportState)
	onError   func(err error)
}

var _ ports.SignalingTransport = (*ClientTransport)(nil)

func NewClientTransport(eng *engine.Engine, cfg ports.TransportConfig, opts ClientTransportOptions, logger *zap.SugaredLogger) *ClientTransport {
	def := DefaultClientTransportOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.BeaconInterval <= 0 {
		opts.BeaconInterval = def.BeaconInterval
	}
	if opts.FailoverAttempts <= 0 {
		opts.FailoverAttempts = def.FailoverAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &ClientTransport{
		eng:   eng,
		cfg:   cfg,
		opts:  opts,
		log:   logger.With("hub", cfg.Hub, "peer", cfg.Peer),
		state: domain.TransportStopped,
		idx:   -1,
	}
}

func (t *ClientTransport) OnMessage(fn func(env *domain.Envelope)) { t.onMessage = fn }

func (t *ClientTransport) OnStateChange(fn func(state domain.TransportState)) { t.onState = fn }

func (t *ClientTransport) OnError(fn func(err error)) { t.onError = fn }

func (t *ClientTransport) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *ClientTransport) State() domain.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect starts dialing in the background and returns at once. The
// outcome arrives through the state and error callbacks.
func (t *ClientTransport) Connect(ctx context.Context) error {
	if len(t.cfg.Servers) == 0 {
		return errNoServers
	}

	t.mu.Lock()
	if t.state != domain.TransportStopped && t.state != domain.TransportDisconnected {
		t.mu.Unlock()
		return errAlreadyConnected
	}
	dialCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.gen++
	gen := t.gen
	t.setStateLocked(domain.TransportConnecting)
	t.mu.Unlock()

	go t.dial(dialCtx, gen)
	return nil
}

func (t *ClientTransport) dial(ctx context.Context, gen int) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.opts.DialTimeout,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: t.opts.InsecureTLS},
	}

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = t.opts.FailoverAttempts
	cfg.InitialDelay = t.opts.RetryDelay
	cfg.OnRetry = func(attempt int, err error) {
		t.log.Warnw("relay dial failed", "attempt", attempt, "error", err)
	}

	conn, err := retry.RetryWithResult(ctx, cfg, func() (*websocket.Conn, error) {
		server := t.nextServer()
		attemptCtx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
		defer cancel()

		var conn *websocket.Conn
		err := t.guard(server, func() error {
			var err error
			conn, _, err = dialer.DialContext(attemptCtx, server, nil)
			return err
		})
		if err != nil {
			err = fmt.Errorf("dial %s: %w", server, err)
			if ctx.Err() != nil {
				// closed while dialing
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		return conn, nil
	})

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gen != gen || t.state != domain.TransportConnecting {
		// Closed while dialing.
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		t.log.Errorw("relay unreachable", "servers", t.cfg.Servers, "error", err)
		t.post(func() {
			if t.onError != nil {
				t.onError(err)
			}
		})
		t.setStateLocked(domain.TransportDisconnected)
		return
	}

	t.conn = conn
	t.setStateLocked(domain.TransportConnected)
	t.log.Infow("relay connected", "server", t.cfg.Servers[t.idx])

	hello := domain.HelloData{TS: t.eng.Clock().WallMillis(), Support: &t.cfg.Support}
	if err := t.sendLocked(hello, domain.TypeHi, ""); err != nil {
		t.log.Warnw("hi not sent", "error", err)
	}

	go t.read(conn)
}

func (t *ClientTransport) guard(server string, dial func() error) error {
	if t.opts.Breakers == nil {
		return dial()
	}
	return t.opts.Breakers.Get(server).Execute(dial)
}

func (t *ClientTransport) nextServer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.idx = (t.idx + 1) % len(t.cfg.Servers)
	return t.cfg.Servers[t.idx]
}

func (t *ClientTransport) read(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.eng.Post(func() { t.closed(conn, err) })
			return
		}
		t.eng.Post(func() { t.handle(raw) })
	}
}

// handle runs on the engine loop.
func (t *ClientTransport) handle(raw []byte) {
	env, err := domain.ParseEnvelope(raw)
	if err != nil {
		t.log.Warnw("dropping malformed relay message", "error", err)
		return
	}

	switch env.Type {
	case domain.TypeHo:
		t.registered(env)
	case domain.TypePing:
		t.pong(env)
	case domain.TypePong:
		if err := env.SetDataField("delay", t.eng.Clock().Now()-env.TS); err != nil {
			t.log.Debugw("pong without object payload", "from", env.From, "error", err)
		}
		t.deliver(env)
	default:
		t.deliver(env)
	}
}

func (t *ClientTransport) registered(env *domain.Envelope) {
	var data domain.HelloData
	if err := env.DecodeData(&data); err != nil || data.Result != domain.ResultSuccess {
		t.log.Warnw("registration refused", "result", data.Result, "error", err)
		return
	}

	t.eng.Clock().Calibrate(env.TS, data.TS)

	t.mu.Lock()
	if t.conn == nil {
		t.mu.Unlock()
		return
	}
	t.id = env.From
	if t.stopBeat != nil {
		t.stopBeat()
	}
	id := t.id
	t.stopBeat = t.eng.Every(t.opts.BeaconInterval, func() {
		t.Send(struct{}{}, domain.TypeBeacon, id)
	})
	t.state = domain.TransportRegistered
	t.mu.Unlock()

	offset, _ := t.eng.Clock().Offset()
	t.log.Infow("registered with relay", "id", id, "offset_ms", offset)
	if t.onState != nil {
		t.onState(domain.TransportRegistered)
	}
}

// pong answers a relay ping inline. The ping's ts is kept so the prober can
// compute the round trip.
func (t *ClientTransport) pong(ping *domain.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return
	}

	reply := ping.Clone()
	reply.To = ping.From
	reply.From = t.id
	reply.Type = domain.TypePong
	reply.Via = domain.ViaRelay
	if err := reply.SetData(domain.PongData{TsArv: t.eng.Clock().Now()}); err != nil {
		return
	}
	if err := t.writeLocked(reply); err != nil {
		t.log.Debugw("pong not sent", "to", reply.To, "error", err)
	}
}

func (t *ClientTransport) deliver(env *domain.Envelope) {
	if t.onMessage != nil {
		t.onMessage(env)
	}
}

// closed runs on the engine loop once the read side of conn failed.
func (t *ClientTransport) closed(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.teardownLocked()
	t.state = domain.TransportDisconnected
	t.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.log.Warnw("relay connection lost", "error", err)
	} else {
		t.log.Infow("relay connection closed")
	}
	if t.onState != nil {
		t.onState(domain.TransportDisconnected)
	}
}

// Send stamps and writes one envelope. It reports false when the transport
// cannot write.
func (t *ClientTransport) Send(data any, msgType, to string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.CanSend() {
		return false
	}
	if err := t.sendLocked(data, msgType, to); err != nil {
		t.log.Debugw("relay send failed", "type", msgType, "to", to, "error", err)
		return false
	}
	return true
}

func (t *ClientTransport) sendLocked(data any, msgType, to string) error {
	payload, err := domain.EncodePayload(data, t.cfg.Peer)
	if err != nil {
		return err
	}
	env := &domain.Envelope{
		Hub:  t.cfg.Hub,
		From: t.id,
		To:   to,
		Type: msgType,
		Data: payload,
		TS:   t.eng.Clock().Now(),
		Via:  domain.ViaRelay,
	}
	return t.writeLocked(env)
}

func (t *ClientTransport) writeLocked(env *domain.Envelope) error {
	if t.conn == nil {
		return domain.ErrNotConnected
	}
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, raw)
}

// Close says bye when possible and drops the connection. It is idempotent
// and does not fire the state callback.
func (t *ClientTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.CanSend() {
		if err := t.sendLocked(struct{}{}, domain.TypeBye, ""); err != nil {
			t.log.Debugw("bye not sent", "error", err)
		}
	}
	if t.conn != nil {
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
	t.teardownLocked()
	t.state = domain.TransportStopped
}

func (t *ClientTransport) teardownLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.stopBeat != nil {
		t.stopBeat()
		t.stopBeat = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func (t *ClientTransport) setStateLocked(state domain.TransportState) {
	t.state = state
	t.post(func() {
		if t.onState != nil {
			t.onState(state)
		}
	})
}

func (t *ClientTransport) post(fn func()) {
	t.eng.Post(fn)
}

// ClientTransportFactory builds relay transports sharing one engine. Unless
// Options carries its own, the transports share one breaker group so a
// restart skips servers that failed before.
type ClientTransportFactory struct {
	Engine  *engine.Engine
	Options ClientTransportOptions
	Logger  *zap.SugaredLogger

	once sync.Once
}

var _ ports.TransportFactory = (*ClientTransportFactory)(nil)

func (f *ClientTransportFactory) NewTransport(cfg ports.TransportConfig) ports.SignalingTransport {
	f.once.Do(func() {
		if f.Options.Breakers == nil {
			f.Options.Breakers = circuitbreaker.NewGroup(circuitbreaker.DefaultConfig())
			f.Options.Breakers.OnStateChange(func(server string, from, to circuitbreaker.State) {
				f.Logger.Infow("relay server breaker", "server", server, "from", from.String(), "to", to.String())
			})
		}
	})
	return NewClientTransport(f.Engine, cfg, f.Options, f.Logger)
}
