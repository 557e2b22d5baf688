package webrtc

import (
	"fmt"

	"hubcom/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config tunes the pion API shared by every peer connection.
type Config struct {
	PortMin uint16
	PortMax uint16
}

// Factory creates pion peer connections for the client. It carries the
// default codecs and interceptors and routes pion's own logs through zap.
type Factory struct {
	api    *webrtc.API
	logger *zap.SugaredLogger
}

var _ ports.PeerConnectionFactory = (*Factory)(nil)

func NewFactory(cfg Config, logger *zap.SugaredLogger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(logger),
	}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(settingEngine),
		),
		logger: logger,
	}, nil
}

func (f *Factory) NewPeerConnection(iceServers []webrtc.ICEServer) (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return newPeerConnection(pc, f.logger), nil
}
