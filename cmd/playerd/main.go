// Command playerd is the digital-signage player core daemon: it loads
// local configuration, establishes or loads the display's identity,
// opens the content store, and runs the collector's supervised cycle
// until terminated.
//
// The entrypoint's shape (config -> identity -> stores -> supervised
// services -> metrics/health HTTP -> wait-for-signal) follows the
// teacher's cmd/beenetd/main.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/skyline-signage/player-core/internal/collector"
	"github.com/skyline-signage/player-core/internal/config"
	"github.com/skyline-signage/player-core/internal/downloader"
	"github.com/skyline-signage/player-core/internal/events"
	"github.com/skyline-signage/player-core/internal/identity"
	"github.com/skyline-signage/player-core/internal/logging"
	"github.com/skyline-signage/player-core/internal/resolver"
	"github.com/skyline-signage/player-core/internal/store"
	"github.com/skyline-signage/player-core/internal/synccoord"
	"github.com/skyline-signage/player-core/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Root().Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(os.Stderr, logging.RemoteLevel(cfg.Logging.Level))
	log := logging.Component("main")

	id, err := identity.LoadOrGenerate(cfg.Store.IdentityFile, cfg.CMS.URL, cfg.CMS.ServerKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load or generate display identity")
	}

	contentStore, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open content store")
	}
	defer contentStore.Close()

	auth := newAuthenticator(cfg, id)
	client := transport.New(transport.Config{BaseURL: cfg.CMS.URL}, auth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	downloadCfg := downloader.Config{
		Concurrency:    cfg.Download.Concurrency,
		ChunkThreshold: cfg.Download.ChunkThreshold,
		ChunkSize:      cfg.Download.ChunkSize,
		ChunksPerFile:  cfg.Download.ChunksPerFile,
		Progressive:    cfg.Download.Progressive,
		Integrity:      downloader.IntegrityWarn,
		RequestTimeout: cfg.Download.RequestTimeout,
	}
	manager := downloader.NewManager(ctx, contentStore, client, downloadCfg)

	res := resolver.New()
	bus := events.NewBus()
	defer bus.Close()

	collectorCfg := collector.DefaultConfig()
	collectorCfg.ClientType = cfg.CMS.ClientType
	col := collector.New(collectorCfg, client, manager, contentStore, res, id, bus)

	supervisor := collector.NewSupervisor(collector.DefaultSupervisorConfig())
	supervisor.Add(col)

	if cfg.Sync.Enabled {
		coord := synccoord.NewCoordinator(synccoord.DefaultConfig(id.HardwareKey), func(isLead bool) {
			log.Info().Bool("isLead", isLead).Msg("sync coordinator lead state changed")
		})
		supervisor.Add(coord)
	}

	go serveMetrics(cfg.Server.MetricsAddr, log)

	go func() {
		if err := supervisor.Serve(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("supervisor exited unexpectedly")
		}
	}()

	waitForShutdown(log)
	cancel()
	time.Sleep(200 * time.Millisecond) // let in-flight submissions flush
}

func newAuthenticator(cfg *config.Config, id *identity.Identity) transport.Authenticator {
	if cfg.CMS.AuthMode == "v2" {
		return transport.NewTokenAuthenticator(cfg.CMS.ServerKey, id.HardwareKey)
	}
	return &transport.SharedKeyAuthenticator{ServerKey: cfg.CMS.ServerKey, HardwareKey: id.HardwareKey}
}

// serveMetrics exposes the Prometheus registry at /metrics (§6 "metrics").
func serveMetrics(addr string, log zerolog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("metrics server exited")
	}
}

func waitForShutdown(log zerolog.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")
}
