package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Relay struct {
		Address      string        `yaml:"address"`
		Path         string        `yaml:"path"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		TLS          struct {
			Enabled  bool   `yaml:"enabled"`
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
		GeoIPFile   string        `yaml:"geoip_file"`
		GeoCacheTTL time.Duration `yaml:"geo_cache_ttl"`
		GeoTimeout  time.Duration `yaml:"geo_timeout"`
	} `yaml:"relay"`

	Client struct {
		Peer             string        `yaml:"peer"`
		Hub              string        `yaml:"hub"`
		Servers          []string      `yaml:"servers"`
		PingWait         time.Duration `yaml:"ping_wait"`
		AutoPing         bool          `yaml:"auto_ping"`
		BeaconInterval   time.Duration `yaml:"beacon_interval"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		FailoverAttempts int           `yaml:"failover_attempts"`
		SessionTimeout   time.Duration `yaml:"session_timeout"`
		CloseDelay       time.Duration `yaml:"close_delay"`
		CandidateQuiet   time.Duration `yaml:"candidate_quiet"`
		InsecureTLS      bool          `yaml:"insecure_tls"`
	} `yaml:"client"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Relay
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if !strings.HasPrefix(c.Relay.Path, "/") {
		return fmt.Errorf("relay.path must start with /")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.pong_timeout must be > relay.ping_interval")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.TLS.Enabled && (c.Relay.TLS.CertFile == "" || c.Relay.TLS.KeyFile == "") {
		return fmt.Errorf("relay.tls.cert_file and key_file must be set when tls is enabled")
	}
	if c.Relay.GeoCacheTTL <= 0 {
		return fmt.Errorf("relay.geo_cache_ttl must be > 0")
	}
	if c.Relay.GeoTimeout <= 0 {
		return fmt.Errorf("relay.geo_timeout must be > 0")
	}

	// Client
	if c.Client.PingWait <= 0 {
		return fmt.Errorf("client.ping_wait must be > 0")
	}
	if c.Client.BeaconInterval <= 0 {
		return fmt.Errorf("client.beacon_interval must be > 0")
	}
	if c.Client.DialTimeout <= 0 {
		return fmt.Errorf("client.dial_timeout must be > 0")
	}
	if c.Client.FailoverAttempts < 0 {
		return fmt.Errorf("client.failover_attempts must be >= 0")
	}
	if c.Client.SessionTimeout <= 0 {
		return fmt.Errorf("client.session_timeout must be > 0")
	}
	if c.Client.CloseDelay < 0 {
		return fmt.Errorf("client.close_delay must be >= 0")
	}
	if c.Client.CandidateQuiet <= 0 {
		return fmt.Errorf("client.candidate_quiet must be > 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && !strings.HasPrefix(c.Monitoring.MetricsPath, "/") {
		return fmt.Errorf("monitoring.metrics_path must start with / when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}
	if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Relay.Address = ":55555"
	cfg.Relay.Path = "/"
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.TLS.Enabled = true
	cfg.Relay.TLS.CertFile = "certs/relay.crt"
	cfg.Relay.TLS.KeyFile = "certs/relay.key"
	cfg.Relay.GeoCacheTTL = time.Hour
	cfg.Relay.GeoTimeout = 2 * time.Second

	cfg.Client.PingWait = 30 * time.Second
	cfg.Client.AutoPing = true
	cfg.Client.BeaconInterval = 25 * time.Second
	cfg.Client.DialTimeout = 10 * time.Second
	cfg.Client.FailoverAttempts = 3
	cfg.Client.SessionTimeout = 30 * time.Second
	cfg.Client.CloseDelay = 100 * time.Millisecond
	cfg.Client.CandidateQuiet = 150 * time.Millisecond

	cfg.WebRTC.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "hubcom-relay"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("HUBCOM_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if v := os.Getenv("HUBCOM_RELAY_TLS"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Relay.TLS.Enabled = enabled
		}
	}
	if cert := os.Getenv("HUBCOM_RELAY_TLS_CERT"); cert != "" {
		c.Relay.TLS.CertFile = cert
	}
	if key := os.Getenv("HUBCOM_RELAY_TLS_KEY"); key != "" {
		c.Relay.TLS.KeyFile = key
	}
	if geo := os.Getenv("HUBCOM_RELAY_GEOIP_FILE"); geo != "" {
		c.Relay.GeoIPFile = geo
	}
	if servers := os.Getenv("HUBCOM_CLIENT_SERVERS"); servers != "" {
		c.Client.Servers = strings.Split(servers, ",")
	}
	if hub := os.Getenv("HUBCOM_CLIENT_HUB"); hub != "" {
		c.Client.Hub = hub
	}
	if peer := os.Getenv("HUBCOM_CLIENT_PEER"); peer != "" {
		c.Client.Peer = peer
	}
	if level := os.Getenv("HUBCOM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// WithPort returns the relay address with its port replaced.
func (c *Config) WithPort(port string) (string, error) {
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return "", fmt.Errorf("invalid port %q", port)
	}
	host := c.Relay.Address
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return fmt.Sprintf("%s:%d", host, p), nil
}
