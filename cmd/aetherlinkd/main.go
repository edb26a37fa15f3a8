// Command aetherlinkd runs the aetherlink connection front-end: it accepts
// Telnet, Telnet-TLS, and SSH client sessions and multiplexes them over a
// single authenticated WebSocket to one backend game-engine process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/stlalpha/aetherlink/internal/backend"
	"github.com/stlalpha/aetherlink/internal/bus"
	"github.com/stlalpha/aetherlink/internal/config"
	"github.com/stlalpha/aetherlink/internal/frontend/sshfe"
	"github.com/stlalpha/aetherlink/internal/frontend/telnetfe"
	"github.com/stlalpha/aetherlink/internal/frontend/telnetlsfe"
	"github.com/stlalpha/aetherlink/internal/logging"
	"github.com/stlalpha/aetherlink/internal/session"
)

func main() {
	var (
		debug          = flag.Bool("d", false, "enable debug logging")
		noTelnet       = flag.Bool("t", false, "disable the plain-Telnet listener")
		noSSH          = flag.Bool("s", false, "disable the SSH listener")
		noTelnetTLS    = flag.Bool("st", false, "disable the Telnet-TLS listener")
		telnetPort     = flag.Int("tp", 0, "override the plain-Telnet listener port")
		sshPort        = flag.Int("sp", 0, "override the SSH listener port")
		telnetTLSPort  = flag.Int("stp", 0, "override the Telnet-TLS listener port")
		backendPort    = flag.Int("wsp", 0, "override the backend WebSocket listener port")
		configPath     = flag.String("c", "config.json", "path to the JSON config file")
		configPathLong = flag.String("config", "", "path to the JSON config file (overrides -c)")
	)
	flag.Parse()

	path := *configPath
	if *configPathLong != "" {
		path = *configPathLong
	}

	cfg, err := config.Load(path)
	if err != nil {
		logging.Error("failed to load config %s: %v", path, err)
		os.Exit(1)
	}

	logging.DebugEnabled = *debug
	if *noTelnet {
		cfg.TelnetEnabled = false
	}
	if *noSSH {
		cfg.SSHEnabled = false
	}
	if *noTelnetTLS {
		cfg.TelnetTLSEnabled = false
	}
	if *telnetPort != 0 {
		cfg.TelnetPort = *telnetPort
	}
	if *sshPort != 0 {
		cfg.SSHPort = *sshPort
	}
	if *telnetTLSPort != 0 {
		cfg.TelnetTLSPort = *telnetTLSPort
	}
	if *backendPort != 0 {
		cfg.BackendPort = *backendPort
	}

	b := bus.New()
	registry := session.NewRegistry(b)
	registry.SetSecret(cfg.Secret())

	watcher, err := config.WatchFile(path, cfg)
	if err != nil {
		logging.Warn("config hot reload disabled: %v", err)
	} else {
		watcher.OnReload = func() { registry.SetSecret(cfg.Secret()) }
		defer watcher.Stop()
	}

	handler := backend.NewHandler(b, registry, cfg)
	handler.SoftbootCommand = cfg.SoftbootCommand

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	backendAddr := "127.0.0.1:" + strconv.Itoa(cfg.BackendPort)
	backendSrv := &http.Server{Addr: backendAddr, Handler: mux}

	var shutdowns []func(context.Context) error
	errc := make(chan error, 4)

	go func() {
		logging.Info("backend: listening on %s", backendAddr)
		if err := backendSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("backend listener: %w", err)
		}
	}()
	shutdowns = append(shutdowns, backendSrv.Shutdown)

	if cfg.TelnetEnabled {
		l := &telnetfe.Listener{Registry: registry, Bus: b, Secrets: cfg, MSSP: cfg}
		addr := "127.0.0.1:" + strconv.Itoa(cfg.TelnetPort)
		go func() {
			if err := l.ListenAndServe(addr); err != nil {
				errc <- fmt.Errorf("telnet listener: %w", err)
			}
		}()
	} else {
		logging.Info("telnet: disabled")
	}

	if cfg.TelnetTLSEnabled {
		l := &telnetlsfe.Listener{Registry: registry, Bus: b, Secrets: cfg, MSSP: cfg, CertPath: cfg.TLSCertPath, KeyPath: cfg.TLSKeyPath}
		addr := "127.0.0.1:" + strconv.Itoa(cfg.TelnetTLSPort)
		go func() {
			if err := l.ListenAndServe(addr); err != nil {
				errc <- fmt.Errorf("telnet-tls listener: %w", err)
			}
		}()
	} else {
		logging.Info("telnet-tls: disabled")
	}

	if cfg.SSHEnabled {
		l := &sshfe.Listener{
			Registry:            registry,
			Bus:                 b,
			Secrets:             cfg,
			HostKeyPath:         cfg.SSHHostKeyPath,
			HostKeyPassphrase:   cfg.SSHHostKeyPassphrase,
			LegacySSHAlgorithms: cfg.SSHLegacyAlgorithms,
		}
		addr := "0.0.0.0:" + strconv.Itoa(cfg.SSHPort)
		go func() {
			if err := l.ListenAndServe(addr); err != nil {
				errc <- fmt.Errorf("ssh listener: %w", err)
			}
		}()
	} else {
		logging.Info("ssh: disabled")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigc:
		logging.Info("received signal %s, shutting down", sig)
	case err := <-errc:
		logging.Error("%v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, shutdown := range shutdowns {
		if err := shutdown(shutdownCtx); err != nil {
			logging.Warn("shutdown: %v", err)
		}
	}
	b.Close()

	logging.Info("shutdown complete")
	os.Exit(0)
}
