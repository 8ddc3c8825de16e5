package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default ports every agent listens on. Load-balancer targets are probed on
// these directly; nodeport targets carry their own port mapping.
const (
	DefaultWSPort   = 8080
	DefaultTCPPort  = 8081
	DefaultHTTPPort = 8082
)

// Config represents configuration for both linkmon binaries. The observer
// reads the Observer section, the agent reads the Agent section; Probe and
// MaxHistory apply to both.
type Config struct {
	NodeID     string         `yaml:"node_id"`
	MaxHistory int            `yaml:"max_history"`
	Probe      ProbeConfig    `yaml:"probe"`
	Observer   ObserverConfig `yaml:"observer"`
	Agent      AgentConfig    `yaml:"agent"`
}

// ProbeConfig holds probe cadence and timeout settings in milliseconds.
type ProbeConfig struct {
	HTTPIntervalMS   int `yaml:"http_interval_ms"`
	WSIntervalMS     int `yaml:"ws_interval_ms"`
	TCPIntervalMS    int `yaml:"tcp_interval_ms"`
	ReconnectDelayMS int `yaml:"reconnect_delay_ms"`
	HTTPTimeoutMS    int `yaml:"http_timeout_ms"`
	WSOpenTimeoutMS  int `yaml:"ws_open_timeout_ms"`
	ConnectTimeoutMS int `yaml:"connect_timeout_ms"`
	// AckGraceMS is added to the probe interval to form the pong/echo
	// deadline of the persistent probers.
	AckGraceMS int `yaml:"ack_grace_ms"`
}

// ObserverConfig describes the external vantage point.
type ObserverConfig struct {
	Addr           string        `yaml:"addr"`
	PollIntervalMS int           `yaml:"poll_interval_ms"`
	LoadBalancers  []HostTarget  `yaml:"loadbalancers"`
	NodePorts      []PortTarget  `yaml:"nodeports"`
	Routes         []RouteTarget `yaml:"routes"`
}

// HostTarget is probed over all three protocols on the default agent ports.
type HostTarget struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
}

// PortTarget is probed over all three protocols on an explicit port mapping.
type PortTarget struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	WSPort   int    `yaml:"ws_port"`
	TCPPort  int    `yaml:"tcp_port"`
	HTTPPort int    `yaml:"http_port"`
}

// RouteTarget is probed over HTTP only and doubles as a reconciled peer: its
// URL is also where the observer pulls /status and /history from.
type RouteTarget struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// AgentConfig describes an in-cluster agent.
type AgentConfig struct {
	Peers    []string `yaml:"peers"`
	WSPort   int      `yaml:"ws_port"`
	TCPPort  int      `yaml:"tcp_port"`
	HTTPPort int      `yaml:"http_port"`
}

// DefaultConfig returns sensible defaults in case no configuration file is
// provided: one request per second over HTTP, two per second on the
// persistent transports.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "linkmon-local"
	}

	return Config{
		NodeID:     hostname,
		MaxHistory: 200,
		Probe: ProbeConfig{
			HTTPIntervalMS:   1000,
			WSIntervalMS:     500,
			TCPIntervalMS:    500,
			ReconnectDelayMS: 1000,
			HTTPTimeoutMS:    1000,
			WSOpenTimeoutMS:  1000,
			ConnectTimeoutMS: 1000,
			AckGraceMS:       300,
		},
		Observer: ObserverConfig{
			Addr:           ":9091",
			PollIntervalMS: 1000,
		},
		Agent: AgentConfig{
			WSPort:   DefaultWSPort,
			TCPPort:  DefaultTCPPort,
			HTTPPort: DefaultHTTPPort,
		},
	}
}

// Load reads configuration from a yaml file. A missing file falls back to
// defaults; recoverable values are repaired with a warning; structurally
// invalid targets are a hard error.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	def := DefaultConfig()
	if cfg.NodeID == "" {
		cfg.NodeID = def.NodeID
	}
	if cfg.MaxHistory <= 0 {
		log.Printf("config: max_history %d invalid, using %d", cfg.MaxHistory, def.MaxHistory)
		cfg.MaxHistory = def.MaxHistory
	}
	repairMS(&cfg.Probe.HTTPIntervalMS, def.Probe.HTTPIntervalMS, "probe.http_interval_ms")
	repairMS(&cfg.Probe.WSIntervalMS, def.Probe.WSIntervalMS, "probe.ws_interval_ms")
	repairMS(&cfg.Probe.TCPIntervalMS, def.Probe.TCPIntervalMS, "probe.tcp_interval_ms")
	repairMS(&cfg.Probe.ReconnectDelayMS, def.Probe.ReconnectDelayMS, "probe.reconnect_delay_ms")
	repairMS(&cfg.Probe.HTTPTimeoutMS, def.Probe.HTTPTimeoutMS, "probe.http_timeout_ms")
	repairMS(&cfg.Probe.WSOpenTimeoutMS, def.Probe.WSOpenTimeoutMS, "probe.ws_open_timeout_ms")
	repairMS(&cfg.Probe.ConnectTimeoutMS, def.Probe.ConnectTimeoutMS, "probe.connect_timeout_ms")
	repairMS(&cfg.Probe.AckGraceMS, def.Probe.AckGraceMS, "probe.ack_grace_ms")
	repairMS(&cfg.Observer.PollIntervalMS, def.Observer.PollIntervalMS, "observer.poll_interval_ms")
	if cfg.Observer.Addr == "" {
		cfg.Observer.Addr = def.Observer.Addr
	}
	if cfg.Agent.WSPort <= 0 {
		cfg.Agent.WSPort = def.Agent.WSPort
	}
	if cfg.Agent.TCPPort <= 0 {
		cfg.Agent.TCPPort = def.Agent.TCPPort
	}
	if cfg.Agent.HTTPPort <= 0 {
		cfg.Agent.HTTPPort = def.Agent.HTTPPort
	}

	for i, t := range cfg.Observer.LoadBalancers {
		if t.Name == "" || t.Host == "" {
			return Config{}, fmt.Errorf("loadbalancer %d must define name and host", i)
		}
	}
	for i, t := range cfg.Observer.NodePorts {
		if t.Name == "" || t.Host == "" {
			return Config{}, fmt.Errorf("nodeport %d must define name and host", i)
		}
		if t.WSPort <= 0 || t.TCPPort <= 0 || t.HTTPPort <= 0 {
			return Config{}, fmt.Errorf("nodeport %s must define ws_port, tcp_port and http_port", t.Name)
		}
	}
	for i, t := range cfg.Observer.Routes {
		if t.Name == "" || t.URL == "" {
			return Config{}, fmt.Errorf("route %d must define name and url", i)
		}
	}
	return cfg, nil
}

func repairMS(value *int, fallback int, field string) {
	if *value <= 0 {
		log.Printf("config: %s %d invalid, using %d", field, *value, fallback)
		*value = fallback
	}
}

// HTTPInterval returns the request prober cadence.
func (p ProbeConfig) HTTPInterval() time.Duration { return ms(p.HTTPIntervalMS) }

// WSInterval returns the persistent prober cadence.
func (p ProbeConfig) WSInterval() time.Duration { return ms(p.WSIntervalMS) }

// TCPInterval returns the stream prober cadence.
func (p ProbeConfig) TCPInterval() time.Duration { return ms(p.TCPIntervalMS) }

// ReconnectDelay is the fixed delay before re-attempting after any failure.
func (p ProbeConfig) ReconnectDelay() time.Duration { return ms(p.ReconnectDelayMS) }

// HTTPTimeout bounds one request/response exchange.
func (p ProbeConfig) HTTPTimeout() time.Duration { return ms(p.HTTPTimeoutMS) }

// WSOpenTimeout bounds the websocket handshake.
func (p ProbeConfig) WSOpenTimeout() time.Duration { return ms(p.WSOpenTimeoutMS) }

// ConnectTimeout bounds the raw stream dial.
func (p ProbeConfig) ConnectTimeout() time.Duration { return ms(p.ConnectTimeoutMS) }

// PongTimeout is the per-cycle acknowledgment deadline of the websocket prober.
func (p ProbeConfig) PongTimeout() time.Duration { return ms(p.WSIntervalMS + p.AckGraceMS) }

// EchoTimeout is the per-cycle echo deadline of the stream prober.
func (p ProbeConfig) EchoTimeout() time.Duration { return ms(p.TCPIntervalMS + p.AckGraceMS) }

// PollInterval returns the peer reconciliation cadence.
func (o ObserverConfig) PollInterval() time.Duration { return ms(o.PollIntervalMS) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
