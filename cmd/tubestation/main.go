package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/capceri/Tube-measurement/pkg/al1322"
	"github.com/capceri/Tube-measurement/pkg/config"
	"github.com/capceri/Tube-measurement/pkg/engine"
	"github.com/capceri/Tube-measurement/pkg/hmi"
	"github.com/capceri/Tube-measurement/pkg/state"
	"github.com/capceri/Tube-measurement/pkg/web"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config/config.yaml"), "path to the station config file")
	mockHub := flag.Bool("mock", os.Getenv("MOCK_HUB") == "1", "use a simulated sensor hub")
	flag.Parse()

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	boot := zerolog.New(console).With().Timestamp().Logger()

	store, err := config.NewStore(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("config load failed")
	}
	if err := applyEnvOverrides(store); err != nil {
		boot.Fatal().Err(err).Msg("environment override rejected")
	}
	cfg := store.Snapshot()

	logRing := state.NewLogRing(cfg.LogCapacity)
	log := zerolog.New(zerolog.MultiLevelWriter(console, logRing)).With().Timestamp().Logger()

	stateStore := state.NewStore()

	var hub al1322.Client
	if *mockHub {
		log.Info().Msg("using mock sensor hub")
		hub = al1322.NewMock()
	} else {
		hub = al1322.NewHTTPClient(cfg.HubAddress, cfg.RequestTimeout)
	}

	handler := hmi.NewHandler(store, stateStore, log.With().Str("component", "hmi").Logger())
	link := hmi.NewLink(store, handler, log.With().Str("component", "hmi").Logger())

	eng := engine.New(store, stateStore, hub, link,
		log.With().Str("component", "engine").Logger())

	server := web.NewServer(store, stateStore, logRing,
		log.With().Str("component", "web").Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go link.Run(ctx)
	go eng.Run(ctx)

	httpServer := &http.Server{Addr: cfg.Web.Listen, Handler: server.Handler()}
	go func() {
		log.Info().Str("listen", cfg.Web.Listen).Msg("status API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("status API failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// applyEnvOverrides lets deployment scripts adjust the config without
// editing the file. Overrides are in-memory only; SAVE persists them.
func applyEnvOverrides(store *config.Store) error {
	cfg := store.Snapshot()
	changed := false

	if v := os.Getenv("HUB_ADDRESS"); v != "" {
		cfg.HubAddress = v
		changed = true
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
			changed = true
		}
	}
	if v := os.Getenv("HMI_SERIAL_PORT"); v != "" {
		cfg.HMI.SerialPort = v
		changed = true
	}
	if v := os.Getenv("HMI_BAUD"); v != "" {
		if baud, err := strconv.Atoi(v); err == nil && baud > 0 {
			cfg.HMI.Baud = baud
			changed = true
		}
	}
	if v := os.Getenv("WEB_LISTEN"); v != "" {
		cfg.Web.Listen = v
		changed = true
	}

	if changed {
		return store.Replace(cfg)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
