// Package config holds the runtime configuration: role, addressing,
// connection limits, and replication tuning. Values come from a TOML file,
// flag overrides, or the defaults.
package config

import (
	"net"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/1ureka/1ureka.net.sync/internal/transport"
)

// Role selects which side of the protocol this process plays.
type Role string

const (
	RoleListener Role = "listener" // authoritative host
	RoleDialer   Role = "dialer"   // remote peer
	RoleInactive Role = "inactive" // networking disabled
)

// Transport selects the datagram carrier.
type Transport string

const (
	TransportUDP    Transport = "udp"    // plain UDP sockets
	TransportWebRTC Transport = "webrtc" // unordered DataChannel via signaling
)

// Config is the full recognized option surface.
type Config struct {
	Role          Role      `toml:"role"`
	Transport     Transport `toml:"transport"`
	RemoteAddress string    `toml:"remote_address"` // udp dialer only, "host:port"
	SignalAddress string    `toml:"signal_address"` // webrtc: listen addr (host) or ws URL (dialer)
	ListenPort    uint16    `toml:"listen_port"`

	MaxConnections    int     `toml:"max_connections"` // listener only
	TickRate          float64 `toml:"tick_rate"`       // replication Hz
	RelevancyDistance float32 `toml:"relevancy_distance"`
	TimeoutSeconds    float64 `toml:"timeout_seconds"`

	Debug bool `toml:"debug"`
}

// Default returns the stock configuration: an inactive node that would
// listen on 7777 for up to 64 peers, replicating at 30 Hz.
func Default() Config {
	return Config{
		Role:              RoleInactive,
		Transport:         TransportUDP,
		ListenPort:        7777,
		MaxConnections:    64,
		TickRate:          30,
		RelevancyDistance: 10000,
		TimeoutSeconds:    30,
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to load config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot act on.
func (c Config) Validate() error {
	switch c.Role {
	case RoleListener, RoleDialer, RoleInactive:
	default:
		return errors.Errorf("config: invalid role %q", c.Role)
	}

	switch c.Transport {
	case TransportUDP, TransportWebRTC:
	default:
		return errors.Errorf("config: invalid transport %q", c.Transport)
	}

	if c.Role == RoleDialer && c.Transport == TransportUDP && c.RemoteAddress == "" {
		return errors.New("config: udp dialer role requires remote_address")
	}
	if c.Role == RoleDialer && c.Transport == TransportWebRTC && c.SignalAddress == "" {
		return errors.New("config: webrtc dialer role requires signal_address")
	}
	if c.Role == RoleListener && c.MaxConnections < 1 {
		return errors.New("config: max_connections must be at least 1")
	}
	if c.TickRate <= 0 {
		return errors.New("config: tick_rate must be positive")
	}
	if c.TimeoutSeconds <= 0 {
		return errors.New("config: timeout_seconds must be positive")
	}
	return nil
}

// Timeout returns the connection silence threshold.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

// RemoteEndpoint resolves RemoteAddress to a transport endpoint. Hostnames
// are resolved; the first address wins.
func (c Config) RemoteEndpoint() (transport.Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", c.RemoteAddress)
	if err != nil {
		return transport.Endpoint{}, errors.Wrapf(err, "failed to resolve %s", c.RemoteAddress)
	}
	return addr.AddrPort(), nil
}
