package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaults verifies the stock configuration is valid and carries the
// documented values.
func TestDefaults(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Role != RoleInactive {
		t.Errorf("Role: got %q", cfg.Role)
	}
	if cfg.Transport != TransportUDP {
		t.Errorf("Transport: got %q", cfg.Transport)
	}
	if cfg.ListenPort != 7777 || cfg.MaxConnections != 64 {
		t.Errorf("listen defaults: port=%d max=%d", cfg.ListenPort, cfg.MaxConnections)
	}
	if cfg.TickRate != 30 {
		t.Errorf("TickRate: got %g", cfg.TickRate)
	}
	if cfg.Timeout() != 30*time.Second {
		t.Errorf("Timeout: got %v", cfg.Timeout())
	}
}

// TestValidate covers the rejection rules per role.
func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "listener ok",
			mutate: func(c *Config) { c.Role = RoleListener },
		},
		{
			name:   "dialer with remote ok",
			mutate: func(c *Config) { c.Role = RoleDialer; c.RemoteAddress = "127.0.0.1:7777" },
		},
		{
			name:    "dialer without remote",
			mutate:  func(c *Config) { c.Role = RoleDialer },
			wantErr: true,
		},
		{
			name:    "bogus transport",
			mutate:  func(c *Config) { c.Transport = "carrier-pigeon" },
			wantErr: true,
		},
		{
			name:    "webrtc dialer without signal address",
			mutate:  func(c *Config) { c.Role = RoleDialer; c.Transport = TransportWebRTC },
			wantErr: true,
		},
		{
			name: "webrtc dialer with signal address ok",
			mutate: func(c *Config) {
				c.Role = RoleDialer
				c.Transport = TransportWebRTC
				c.SignalAddress = "ws://127.0.0.1:9000/ws?pin=1234"
			},
		},
		{
			name:    "bogus role",
			mutate:  func(c *Config) { c.Role = "observer" },
			wantErr: true,
		},
		{
			name:    "listener with zero capacity",
			mutate:  func(c *Config) { c.Role = RoleListener; c.MaxConnections = 0 },
			wantErr: true,
		},
		{
			name:    "non-positive tick rate",
			mutate:  func(c *Config) { c.TickRate = 0 },
			wantErr: true,
		},
		{
			name:    "non-positive timeout",
			mutate:  func(c *Config) { c.TimeoutSeconds = -1 },
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("invalid config accepted")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("valid config rejected: %v", err)
			}
		})
	}
}

// TestLoad verifies that a TOML file overrides only the keys it names.
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netsync.toml")
	body := `
role = "listener"
listen_port = 9000
max_connections = 8
debug = true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Role != RoleListener || cfg.ListenPort != 9000 || cfg.MaxConnections != 8 || !cfg.Debug {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	// Untouched keys keep their defaults.
	if cfg.TickRate != 30 || cfg.TimeoutSeconds != 30 {
		t.Errorf("defaults lost: tick=%g timeout=%g", cfg.TickRate, cfg.TimeoutSeconds)
	}
}

// TestLoadRejectsInvalid verifies that Load validates after decoding.
func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netsync.toml")
	if err := os.WriteFile(path, []byte(`role = "dialer"`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("dialer without remote_address accepted")
	}
}

// TestLoadMissingFile verifies the error path for an absent file.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("missing file accepted")
	}
}

// TestRemoteEndpoint verifies address resolution, including the failure
// path.
func TestRemoteEndpoint(t *testing.T) {
	cfg := Default()
	cfg.RemoteAddress = "127.0.0.1:7777"

	ep, err := cfg.RemoteEndpoint()
	if err != nil {
		t.Fatalf("RemoteEndpoint failed: %v", err)
	}
	if ep.Port() != 7777 || !ep.Addr().IsLoopback() {
		t.Errorf("endpoint: got %s", ep)
	}

	cfg.RemoteAddress = "not a host"
	if _, err := cfg.RemoteEndpoint(); err == nil {
		t.Error("garbage address accepted")
	}
}
