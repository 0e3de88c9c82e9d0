// Package rtc is the in-process routing engine built on pion's ORTC API.
// It gathers real ICE candidates and DTLS certificates for every transport
// and keeps the producer/consumer bookkeeping the signaling layer relies on.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/engine"
)

var ErrNoCandidates = errors.New("no ice candidates gathered")

type Worker struct {
	api *webrtc.API
	cfg config.RTCConfig
	tcp net.Listener

	died chan error

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool
}

var _ engine.Worker = (*Worker)(nil)

func NewWorker(cfg config.RTCConfig) (*Worker, error) {
	se := webrtc.SettingEngine{LoggerFactory: loggerFactory{}}
	tcp, err := ApplyNetworkSettings(&se, cfg)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		api:     webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		cfg:     cfg,
		tcp:     tcp,
		died:    make(chan error, 1),
		routers: make(map[string]*Router),
	}
	log.Info().Str("module", "rtc").
		Str("listen_ip", cfg.ListenIP).
		Str("announced_ip", cfg.AnnouncedIP).
		Uint16("udp_port_min", cfg.UDPPortMin).
		Uint16("udp_port_max", cfg.UDPPortMax).
		Bool("tcp", tcp != nil).
		Msg("worker started")
	return w, nil
}

// ApplyNetworkSettings configures ports, addresses and network types. When
// TCP is enabled it opens the shared ICE-TCP listener and returns it.
func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.RTCConfig) (net.Listener, error) {
	se.SetLite(true)

	if cfg.UDPPortMin != 0 || cfg.UDPPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}
	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	listenIP := net.ParseIP(cfg.ListenIP)
	if cfg.ListenIP != "" && listenIP == nil {
		return nil, fmt.Errorf("invalid listen ip %q", cfg.ListenIP)
	}
	if listenIP != nil && !listenIP.IsUnspecified() {
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	var types []webrtc.NetworkType
	if cfg.EnableUDP {
		types = append(types, webrtc.NetworkTypeUDP4)
	}
	if !cfg.EnableTCP {
		se.SetNetworkTypes(types)
		return nil, nil
	}

	types = append(types, webrtc.NetworkTypeTCP4)
	se.SetNetworkTypes(types)

	ip := listenIP
	if ip == nil {
		ip = net.IPv4zero
	}
	ln, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: ip, Port: cfg.TCPPort})
	if err != nil {
		return nil, fmt.Errorf("listen ice-tcp: %w", err)
	}
	se.SetICETCPMux(webrtc.NewICETCPMux(loggerFactory{}.NewLogger("ice-tcp"), ln, 8))
	return ln, nil
}

func (w *Worker) CreateRouter(_ context.Context, opts engine.RouterOptions) (engine.Router, error) {
	caps, err := engine.GenerateRouterRtpCapabilities(opts.MediaCodecs)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, engine.ErrRouterClosed
	}
	r := &Router{
		id:         uuid.NewString(),
		worker:     w,
		caps:       caps,
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
	w.routers[r.id] = r
	log.Info().Str("module", "rtc").Str("router", r.id).Int("codecs", len(caps.Codecs)).Msg("router created")
	return r, nil
}

// Died never fires for the in-process engine. Out-of-process engines
// report crashes here.
func (w *Worker) Died() <-chan error { return w.died }

func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	if w.tcp != nil {
		return w.tcp.Close()
	}
	return nil
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}
