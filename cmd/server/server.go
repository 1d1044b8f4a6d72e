// Package server assembles and runs the pvAccess UDP server core.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pvanet/internal/beacon"
	"pvanet/internal/dispatch"
	"pvanet/internal/metrics"
	"pvanet/internal/registry"
	"pvanet/internal/status"
	"pvanet/internal/timer"
	"pvanet/internal/transport"
	"pvanet/pkg/config"
	"pvanet/pkg/logger"
)

// Run starts the UDP transport, dispatcher and beacon emitter, then blocks
// until SIGINT or SIGTERM.
func Run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log := logger.Init(cfg.Server.LogLevel)

	bindIP := net.ParseIP(cfg.Server.BindAddress)
	if bindIP == nil {
		return fmt.Errorf("invalid bind_address: %q", cfg.Server.BindAddress)
	}
	bindAddr := &net.UDPAddr{IP: bindIP, Port: cfg.Server.Port}

	beaconPeriod, err := cfg.Server.ParseBeaconPeriod()
	if err != nil {
		return fmt.Errorf("parsing beacon period: %w", err)
	}

	sendAddrs, err := resolveSendAddresses(cfg.Server.BeaconAddresses, cfg.Server.Port)
	if err != nil {
		return err
	}

	ignoreIPs, err := parseIgnoreAddresses(cfg.Server.IgnoreAddresses)
	if err != nil {
		return err
	}

	handler := dispatch.NewServerResponseHandler(log)
	tr, err := transport.Listen(bindAddr, handler, log)
	if err != nil {
		return fmt.Errorf("creating UDP transport: %w", err)
	}

	tr.SetSendAddresses(sendAddrs)
	tr.SetIgnoreAddresses(ignoreIPs)
	if needsMulticast(sendAddrs) || cfg.Server.MulticastInterface != "" {
		if err := tr.ConfigureMulticast(cfg.Server.MulticastInterface, cfg.Server.MulticastTTL); err != nil {
			return fmt.Errorf("configuring multicast: %w", err)
		}
	}

	reg := registry.New()
	reg.Put(tr)

	tr.Start()
	log.Info().
		Str("bind", tr.LocalAddr().String()).
		Int("so_rcvbuf", tr.SocketReceiveBufferSize()).
		Dur("beacon_period", beaconPeriod).
		Msg("pvanet server started")

	var provider beacon.ServerStatusProvider
	if !cfg.Server.DisableServerStatus {
		provider = status.NewProvider()
	}

	serverIP := bindIP
	if serverIP.IsUnspecified() {
		if primary := status.PrimaryIP(); primary != nil {
			serverIP = primary
		}
	}
	serverAddr := &net.UDPAddr{IP: serverIP, Port: cfg.Server.Port}

	emitter := beacon.NewEmitter(tr, serverAddr, beaconPeriod, timer.New(), provider, log)
	emitter.Start()
	log.Info().Str("server_address", serverAddr.String()).Msg("Beacon emitter started")

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddress != "" {
		metricsSrv = metrics.Serve(cfg.Server.MetricsAddress, log)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	emitter.Destroy()
	for _, t := range reg.ToArray() {
		t.Close(true)
	}
	reg.Clear()

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Metrics endpoint shutdown failed")
		}
	}
	return nil
}

// loadConfig falls back to defaults when no config file exists at path.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// resolveSendAddresses resolves the beacon destinations. A bare IP address
// gets the server port; any other entry must carry its own port.
func resolveSendAddresses(specs []string, defaultPort int) ([]*net.UDPAddr, error) {
	addrs := make([]*net.UDPAddr, 0, len(specs))
	for _, spec := range specs {
		if ip := net.ParseIP(spec); ip != nil {
			addrs = append(addrs, &net.UDPAddr{IP: ip, Port: defaultPort})
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", spec)
		if err != nil {
			return nil, fmt.Errorf("resolving beacon address %q: %w", spec, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func parseIgnoreAddresses(specs []string) ([]net.IP, error) {
	ips := make([]net.IP, 0, len(specs))
	for _, spec := range specs {
		ip := net.ParseIP(spec)
		if ip == nil {
			return nil, fmt.Errorf("invalid ignore address: %q", spec)
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

func needsMulticast(addrs []*net.UDPAddr) bool {
	for _, addr := range addrs {
		if addr.IP.IsMulticast() {
			return true
		}
	}
	return false
}
