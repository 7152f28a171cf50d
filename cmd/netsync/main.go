// Netsync — CLI entry point.
//
// This tool runs a small state-synchronization demo over UDP: the host
// simulates a player moving in a circle while losing health, and every
// connected client receives a live mirror of that player through delta
// replication. Clients can call the "heal" RPC to restore the player.
//
// It is driven by CLI flags (-role, -config, -port, -remote, -debug); a TOML
// config file supplies the remaining tuning knobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/1ureka.net.sync/internal/codec"
	"github.com/1ureka/1ureka.net.sync/internal/config"
	"github.com/1ureka/1ureka.net.sync/internal/driver"
	"github.com/1ureka/1ureka.net.sync/internal/netsync"
	"github.com/1ureka/1ureka.net.sync/internal/replication"
	"github.com/1ureka/1ureka.net.sync/internal/rpc"
	"github.com/1ureka/1ureka.net.sync/internal/signaling"
	"github.com/1ureka/1ureka.net.sync/internal/transport"
	"github.com/1ureka/1ureka.net.sync/internal/util"
	"github.com/1ureka/1ureka.net.sync/internal/world"
)

var version = "dev"

// frameInterval is the local simulation rate; replication runs at the
// (usually lower) tick_rate from the config.
const frameInterval = time.Second / 60

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	role := flag.String("role", "", "Role: host or client")
	configPath := flag.String("config", "", "Path to a TOML config file")
	transportFlag := flag.String("transport", "", "Transport: udp or webrtc")
	port := flag.Int("port", 0, "UDP listen port (host only), 1~65535")
	remote := flag.String("remote", "", "Host address to connect to (udp client only), \"host:port\"")
	signalAddr := flag.String("signal", "", "Signaling listen address (webrtc host) or ws URL (webrtc client)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			util.LogError("failed to load config: %v", err)
			os.Exit(1)
		}
	}

	// Flags override the config file.
	switch *role {
	case "host":
		cfg.Role = config.RoleListener
	case "client":
		cfg.Role = config.RoleDialer
	case "":
	default:
		util.LogError("invalid -role: must be 'host' or 'client'")
		os.Exit(1)
	}
	if *port != 0 {
		if *port < 1 || *port > 65535 {
			util.LogError("invalid -port (must be 1~65535)")
			os.Exit(1)
		}
		cfg.ListenPort = uint16(*port)
	}
	if *remote != "" {
		cfg.RemoteAddress = *remote
	}
	if *transportFlag != "" {
		cfg.Transport = config.Transport(*transportFlag)
	}
	if *signalAddr != "" {
		cfg.SignalAddress = *signalAddr
	}
	if *debugMode || cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Netsync — v%s", version))
	pterm.Println()

	switch cfg.Role {
	case config.RoleListener:
		runHost(ctx, cfg)
	case config.RoleDialer:
		runClient(ctx, cfg)
	default:
		util.LogError("no role selected: pass -role or set one in the config file")
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runHost runs the authoritative simulation and replicates it to clients.
func runHost(ctx context.Context, cfg config.Config) {
	w := world.New()
	w.RegisterType("player", func() replication.Object { return NewPlayer() })

	channel, err := openChannel(ctx, cfg)
	if err != nil {
		util.LogError("failed to open transport: %v", err)
		os.Exit(1)
	}

	mgr, err := netsync.New(cfg, w, channel)
	if err != nil {
		util.LogError("failed to start session: %v", err)
		os.Exit(1)
	}
	defer mgr.Shutdown()

	registerRPCs(mgr)

	mgr.OnPeerConnected(func(conn *driver.Connection) {
		util.LogSuccess("peer connected: %s", conn.Endpoint())
	})
	mgr.OnPeerDisconnected(func(conn *driver.Connection) {
		util.LogInfo("peer disconnected: %s", conn.Endpoint())
	})

	player := NewPlayer()
	player.simulate = true
	player.SetReplicates(true)
	w.Spawn(player)

	util.StartStatsReporter(ctx)
	util.LogSuccess("hosting on %s — waiting for clients", channel.LocalEndpoint())

	runLoop(ctx, mgr)
}

// runClient connects to a host and mirrors its replicated objects.
func runClient(ctx context.Context, cfg config.Config) {
	w := world.New()
	w.RegisterType("player", func() replication.Object { return NewPlayer() })

	channel, err := openChannel(ctx, cfg)
	if err != nil {
		util.LogError("failed to open transport: %v", err)
		os.Exit(1)
	}

	mgr, err := netsync.New(cfg, w, channel)
	if err != nil {
		util.LogError("failed to start session: %v", err)
		os.Exit(1)
	}
	defer mgr.Shutdown()

	registerRPCs(mgr)

	mgr.OnPeerConnected(func(conn *driver.Connection) {
		util.LogSuccess("connected to host %s", conn.Endpoint())
	})
	mgr.OnPeerDisconnected(func(conn *driver.Connection) {
		util.LogWarning("host disconnected")
	})

	util.StartStatsReporter(ctx)
	util.LogInfo("connecting to %s ...", cfg.RemoteAddress)

	runLoop(ctx, mgr)
}

// openChannel builds the configured transport: plain UDP sockets, or an
// unordered WebRTC DataChannel established through the signaling exchange.
func openChannel(ctx context.Context, cfg config.Config) (transport.DatagramChannel, error) {
	if cfg.Transport == config.TransportWebRTC {
		if cfg.Role == config.RoleListener {
			return signaling.EstablishAsHost(ctx, cfg.SignalAddress)
		}
		return signaling.EstablishAsClient(ctx, cfg.SignalAddress)
	}
	return netsync.OpenChannel(cfg)
}

// runLoop drives the session at the local frame rate until ctx is cancelled.
func runLoop(ctx context.Context, mgr *netsync.Manager) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			mgr.Tick(now.Sub(last))
			last = now
		}
	}
}

// registerRPCs installs the demo's remote calls on both ends. Clients call
// "heal" on the host; the host announces big events to everyone via "notify".
func registerRPCs(mgr *netsync.Manager) {
	mgr.RPC().Register("heal", rpc.ToHost, func(target replication.Object, params *codec.Buffer) {
		amount, err := params.ReadInt32()
		if err != nil {
			util.LogDebug("heal: bad params: %v", err)
			return
		}
		if p, ok := target.(*Player); ok {
			p.Heal(amount)
			util.LogInfo("player %d healed by %d (now %d)", p.NetID(), amount, p.Health)
		}
	})

	mgr.RPC().Register("notify", rpc.ToAll, func(target replication.Object, params *codec.Buffer) {
		msg, err := params.ReadString()
		if err != nil {
			return
		}
		util.LogInfo("host says: %s", msg)
	})
}

// ---------------------------------------------------------------------------
// Demo object
// ---------------------------------------------------------------------------

// Player is the demo's replicated object: on the host it walks a circle and
// slowly loses health; on clients it is a passive mirror.
type Player struct {
	world.BaseObject

	Health int32
	Name   string

	simulate bool
	angle    float64
	decay    time.Duration
}

func NewPlayer() *Player {
	p := &Player{Health: 100, Name: "hero"}
	p.DeclareProperty("health", replication.Int32{P: &p.Health})
	p.DeclareProperty("name", replication.String{P: &p.Name})
	return p
}

func (p *Player) TypeName() string { return "player" }

// Update advances the host-side simulation: one full circle every ~12s,
// one health point lost per second.
func (p *Player) Update(dt time.Duration) {
	if !p.simulate {
		return
	}

	p.angle += dt.Seconds() * (2 * math.Pi / 12)
	p.SetPosition(codec.Vec3{
		X: float32(math.Cos(p.angle)) * 500,
		Y: 0,
		Z: float32(math.Sin(p.angle)) * 500,
	})

	p.decay += dt
	for p.decay >= time.Second {
		p.decay -= time.Second
		if p.Health > 0 {
			p.Health--
		}
	}
}

func (p *Player) Heal(amount int32) {
	p.Health += amount
	if p.Health > 100 {
		p.Health = 100
	}
}

// OnReplicated logs incoming state on the client mirror.
func (p *Player) OnReplicated() {
	util.LogDebug("player %d: health=%d pos=(%.0f, %.0f, %.0f)",
		p.NetID(), p.Health, p.Position().X, p.Position().Y, p.Position().Z)
}
