package services

import (
	"context"
	"fmt"
	"net"
	"time"

	"hubcom/internal/core/domain"
	"hubcom/internal/core/ports"
	apperrors "hubcom/pkg/errors"
	"hubcom/pkg/logger"
	"hubcom/pkg/tracing"
	"hubcom/pkg/utils"

	"go.opentelemetry.io/otel/trace"
)

// Delivery modes reported to RelayMetrics.
const (
	RouteUnicast   = "unicast"
	RouteBroadcast = "broadcast"
	RouteDropped   = "dropped"
	RouteReply     = "reply"
)

type relayRouter struct {
	registry   ports.HubRegistry
	geo        ports.GeoLocator
	metrics    ports.RelayMetrics
	log        *logger.ContextLogger
	geoTimeout time.Duration
	now        func() time.Time
}

// NewRelayRouter builds the relay's message broker. geo and metrics may be nil.
func NewRelayRouter(
	registry ports.HubRegistry,
	geo ports.GeoLocator,
	metrics ports.RelayMetrics,
	log *logger.ContextLogger,
	geoTimeout time.Duration,
) ports.RelayRouter {
	if metrics == nil {
		metrics = nopRelayMetrics{}
	}
	if geoTimeout <= 0 {
		geoTimeout = 2 * time.Second
	}
	return &relayRouter{
		registry:   registry,
		geo:        geo,
		metrics:    metrics,
		log:        log,
		geoTimeout: geoTimeout,
		now:        time.Now,
	}
}

func (r *relayRouter) HandleMessage(ctx context.Context, sock domain.Socket, payload []byte) (err error) {
	if len(payload) == 0 {
		return nil
	}

	msgType := "invalid"
	start := r.now()
	defer func() {
		if rec := recover(); rec != nil {
			err = apperrors.NewRelayInternalError(fmt.Errorf("panic: %v", rec), msgType)
		}
		if err != nil {
			r.metrics.HandlerError(msgType)
			r.log.Sugar(ctx).Errorw("relay message failed", "type", msgType, "error", err)
		}
	}()

	env, err := domain.ParseEnvelope(payload)
	if err != nil {
		return apperrors.NewRelayInternalError(err, msgType)
	}
	msgType = env.Type
	r.metrics.MessageReceived(msgType)
	defer func() { r.metrics.ObserveHandling(msgType, r.now().Sub(start)) }()

	ctx, span := tracing.TraceRelayMessage(ctx, env.Type, env.Hub, sock.ID())
	defer span.End()

	switch env.Type {
	case domain.TypeHi:
		if payload, err = r.hello(ctx, sock, env); err != nil {
			tracing.RecordError(ctx, err)
			return apperrors.NewRelayInternalError(err, msgType)
		}
	case domain.TypeBye:
		r.goodbye(ctx, sock)
	case domain.TypeQuery:
		if err := r.query(ctx, sock, env); err != nil {
			tracing.RecordError(ctx, err)
			return apperrors.NewRelayInternalError(err, msgType)
		}
		return nil
	case domain.TypeBeacon:
		return nil
	}

	r.forward(ctx, span, sock, env, payload)
	return nil
}

// hello registers the socket, answers with ho and returns the frame to
// forward to the hub, stamped with the sender's connection id.
func (r *relayRouter) hello(ctx context.Context, sock domain.Socket, env *domain.Envelope) ([]byte, error) {
	conn, err := utils.ConnectionID(sock.RemoteAddr())
	if err != nil {
		return nil, err
	}

	var hello domain.HelloData
	if err := env.DecodeData(&hello); err != nil {
		r.log.Sugar(ctx).Debugw("hi without peer data", "error", err)
	}

	rec := &domain.PeerRecord{
		Hub:          env.Hub,
		ConnID:       conn,
		Name:         utils.TruncateString(utils.SanitizeString(hello.Peer), 64),
		Socket:       sock,
		RegisteredAt: r.now(),
	}
	retired, err := r.registry.Register(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	if retired != nil {
		r.metrics.PeerDeregistered(retired.Hub)
	}
	r.metrics.PeerRegistered(rec.Hub)

	ctx = logger.WithPeer(ctx, conn, env.Hub)
	r.log.Sugar(ctx).Infow("peer registered", "peer", rec.Name, "active", r.registry.Count())

	ho := env.Clone()
	ho.Type = domain.TypeHo
	ho.From = conn
	ho.TS = r.now().UnixMilli()
	if err := ho.SetDataField("result", domain.ResultSuccess); err != nil {
		if err := ho.SetData(domain.HelloData{Result: domain.ResultSuccess}); err != nil {
			return nil, err
		}
	}
	if err := r.send(ctx, sock, ho); err != nil {
		return nil, fmt.Errorf("send ho: %w", err)
	}

	r.locate(ctx, sock)

	env.From = conn
	return env.Marshal()
}

func (r *relayRouter) goodbye(ctx context.Context, sock domain.Socket) {
	rec, err := r.registry.RemoveBySocket(ctx, sock.ID())
	if err != nil {
		return
	}
	r.metrics.PeerDeregistered(rec.Hub)
	ctx = logger.WithPeer(ctx, rec.ConnID, rec.Hub)
	r.log.Sugar(ctx).Infow("peer deregistered", "peer", rec.Name, "active", r.registry.Count())
}

func (r *relayRouter) query(ctx context.Context, sock domain.Socket, env *domain.Envelope) error {
	var q domain.QueryData
	if err := env.DecodeData(&q); err != nil {
		return err
	}

	answer := "false"
	if r.registry.HubExists(ctx, q.Hub) {
		answer = "true"
	}

	reply := env.Clone()
	reply.Type = domain.TypeReply
	if err := reply.SetDataField("reply", answer); err != nil {
		return err
	}
	r.metrics.MessageRouted(RouteReply)
	r.log.Sugar(ctx).Infow("hub queried", "from", env.From, "hub", q.Hub, "exists", answer)
	return r.send(ctx, sock, reply)
}

func (r *relayRouter) forward(ctx context.Context, span trace.Span, sender domain.Socket, env *domain.Envelope, payload []byte) {
	if env.To != "" {
		rec, err := r.registry.GetByConn(ctx, env.To)
		if err != nil {
			r.metrics.MessageRouted(RouteDropped)
			tracing.MarkRoute(span, RouteDropped, 0)
			r.log.Sugar(ctx).Debugw("unicast target unknown", "to", env.To, "type", env.Type)
			return
		}
		r.deliver(ctx, rec.Socket, payload)
		r.metrics.MessageRouted(RouteUnicast)
		tracing.MarkRoute(span, RouteUnicast, 1)
		return
	}

	n := r.broadcast(ctx, sender.ID(), env.Hub, payload)
	tracing.MarkRoute(span, RouteBroadcast, n)
}

// broadcast delivers payload to every hub member except exclude and
// returns how many sockets it was handed to.
func (r *relayRouter) broadcast(ctx context.Context, exclude, hub string, payload []byte) int {
	records, err := r.registry.FindByHub(ctx, hub)
	if err != nil {
		r.log.Sugar(ctx).Warnw("hub lookup failed", "hub", hub, "error", err)
		return 0
	}
	n := 0
	for _, rec := range records {
		if rec.Socket.ID() == exclude {
			continue
		}
		r.deliver(ctx, rec.Socket, payload)
		n++
	}
	r.metrics.MessageRouted(RouteBroadcast)
	return n
}

func (r *relayRouter) HandleClose(ctx context.Context, sock domain.Socket) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.HandlerError("close")
			r.log.Sugar(ctx).Errorw("panic while closing socket", "panic", rec)
		}
	}()

	rec, err := r.registry.RemoveBySocket(ctx, sock.ID())
	if err != nil {
		return
	}
	r.metrics.PeerDeregistered(rec.Hub)

	bye := &domain.Envelope{Hub: rec.Hub, Type: domain.TypeBye, From: rec.ConnID}
	payload, err := bye.Marshal()
	if err != nil {
		r.log.Sugar(ctx).Errorw("encode bye", "error", err)
		return
	}
	r.broadcast(ctx, sock.ID(), rec.Hub, payload)

	ctx = logger.WithPeer(ctx, rec.ConnID, rec.Hub)
	r.log.Sugar(ctx).Infow("peer deregistered on close", "peer", rec.Name, "active", r.registry.Count())
}

func (r *relayRouter) send(ctx context.Context, sock domain.Socket, env *domain.Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return err
	}
	return sock.Send(payload)
}

func (r *relayRouter) deliver(ctx context.Context, sock domain.Socket, payload []byte) {
	if err := sock.Send(payload); err != nil {
		r.log.Sugar(ctx).Debugw("delivery failed", "socket", sock.ID(), "error", err)
	}
}

// locate resolves the socket's location in the background and stores it on
// the record. Failures only log.
func (r *relayRouter) locate(ctx context.Context, sock domain.Socket) {
	if r.geo == nil {
		return
	}
	addr := sock.RemoteAddr()
	socketID := sock.ID()
	sugar := r.log.Sugar(ctx)

	go func() {
		lookupCtx, cancel := context.WithTimeout(context.Background(), r.geoTimeout)
		defer cancel()

		ip, err := hostOf(addr)
		if err != nil {
			sugar.Debugw("geo lookup skipped", "error", err)
			return
		}
		geo, err := r.geo.Lookup(lookupCtx, ip)
		if err != nil {
			sugar.Debugw("geo lookup failed", "ip", ip, "error", err)
			return
		}
		if err := r.registry.UpdateGeo(lookupCtx, socketID, geo); err != nil {
			return
		}
		sugar.Infow("peer located", "city", geo.City, "country", geo.Country)
	}()
}

func hostOf(addr string) (string, error) {
	host, _, err := net.SplitHostPort(addr)
	return host, err
}

type nopRelayMetrics struct{}

func (nopRelayMetrics) PeerRegistered(string)                  {}
func (nopRelayMetrics) PeerDeregistered(string)                {}
func (nopRelayMetrics) MessageReceived(string)                 {}
func (nopRelayMetrics) MessageRouted(string)                   {}
func (nopRelayMetrics) HandlerError(string)                    {}
func (nopRelayMetrics) ObserveHandling(string, time.Duration) {}
