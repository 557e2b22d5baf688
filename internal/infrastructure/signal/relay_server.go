package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"hubcom/internal/core/ports"
	"hubcom/internal/infrastructure/monitoring"
	rlog "hubcom/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var errSocketClosed = errors.New("socket closed")

// RelayServerConfig holds the per-connection limits of the relay.
type RelayServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64

	RateLimitEnabled  bool
	MessagesPerSecond float64
	Burst             int
}

func DefaultRelayServerConfig() RelayServerConfig {
	return RelayServerConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// RateLimitObserver is told about every frame dropped by the rate limit.
type RateLimitObserver interface {
	MessageRateLimited()
}

// RelayServer accepts relay WebSocket connections and feeds their frames to
// the router, one goroutine per socket.
type RelayServer struct {
	router   ports.RelayRouter
	registry ports.HubRegistry
	health   *monitoring.HealthChecker
	observer RateLimitObserver

	upgrader websocket.Upgrader
	cfg      RelayServerConfig

	log *rlog.ContextLogger

	mu      sync.Mutex
	sockets map[string]*wsSocket
	wg      sync.WaitGroup
}

var _ ports.WebSocketHandler = (*RelayServer)(nil)

func NewRelayServer(
	router ports.RelayRouter,
	registry ports.HubRegistry,
	health *monitoring.HealthChecker,
	observer RateLimitObserver,
	cfg RelayServerConfig,
	logger *zap.Logger,
) *RelayServer {
	if health == nil {
		health = monitoring.NewHealthChecker()
	}
	def := DefaultRelayServerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &RelayServer{
		router:   router,
		registry: registry,
		health:   health,
		observer: observer,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		cfg:     cfg,
		log:     rlog.NewContextLogger(logger),
		sockets: make(map[string]*wsSocket),
	}
}

func (s *RelayServer) HandleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Sugar(c.Request.Context()).Errorw("websocket upgrade failed", "error", err)
		return
	}

	sock := newWSSocket(conn, c.Request.RemoteAddr, s.cfg.WriteTimeout)
	ctx := rlog.WithSocket(context.Background(), sock.ID())

	s.mu.Lock()
	s.sockets[sock.ID()] = sock
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sockets, sock.ID())
		s.mu.Unlock()
		s.wg.Done()
	}()
	s.serve(ctx, sock)
}

func (s *RelayServer) serve(ctx context.Context, sock *wsSocket) {
	logger := s.log.Sugar(ctx)
	logger.Debugw("socket opened", "remote", sock.RemoteAddr())

	defer func() {
		s.router.HandleClose(ctx, sock)
		sock.Close()
		logger.Debugw("socket closed")
	}()

	conn := sock.conn
	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	var limiter *rate.Limiter
	if s.cfg.RateLimitEnabled {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 16)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			msgType, payload, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			select {
			case messageChan <- payload:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case payload := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				if s.observer != nil {
					s.observer.MessageRateLimited()
				}
				logger.Warnw("message dropped by rate limit", "bytes", len(payload))
				continue
			}
			// Failures are logged and counted by the router; the socket stays up.
			_ = s.router.HandleMessage(ctx, sock, payload)

		case <-pingTicker.C:
			if err := sock.ping(); err != nil {
				logger.Infow("ping failed", "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Infow("socket read failed", "error", err)
			}
			return
		}
	}
}

// Wait blocks until every served socket has been torn down.
func (s *RelayServer) Wait() {
	s.wg.Wait()
}

// Shutdown tells every connected client the relay is going away, closes
// the sockets and waits for their handlers to finish. Upgraded connections
// are invisible to http.Server.Shutdown, so this must be called as well.
func (s *RelayServer) Shutdown() {
	s.mu.Lock()
	sockets := make([]*wsSocket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	s.mu.Unlock()

	for _, sock := range sockets {
		sock.goAway()
	}
	s.wg.Wait()
}

func (s *RelayServer) HealthCheck(c *gin.Context) {
	status := s.health.CheckAll(c.Request.Context())
	status.ActivePeers = s.registry.Count()
	status.Hubs = s.registry.HubCount()

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// wsSocket serializes writes to one gorilla connection.
type wsSocket struct {
	id           string
	remoteAddr   string
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func newWSSocket(conn *websocket.Conn, remoteAddr string, writeTimeout time.Duration) *wsSocket {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &wsSocket{
		id:           uuid.NewString(),
		remoteAddr:   remoteAddr,
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (w *wsSocket) ID() string { return w.id }

func (w *wsSocket) RemoteAddr() string { return w.remoteAddr }

func (w *wsSocket) Send(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errSocketClosed
	}
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *wsSocket) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errSocketClosed
	}
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeTimeout))
}

func (w *wsSocket) goAway() {
	w.mu.Lock()
	if !w.closed {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(w.writeTimeout))
	}
	w.mu.Unlock()
	w.Close()
}

func (w *wsSocket) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	_ = w.conn.Close()
}
