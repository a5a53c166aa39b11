package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	router "github.com/dkeye/StatsRelay/internal/adapters/http"
	"github.com/dkeye/StatsRelay/internal/adapters/jvb"
	"github.com/dkeye/StatsRelay/internal/adapters/rtcstats"
	"github.com/dkeye/StatsRelay/internal/app"
	"github.com/dkeye/StatsRelay/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	hostname, err := os.Hostname()
	if err != nil {
		log.Warn().Err(err).Msg("hostname unavailable")
		hostname = "unknown"
	}

	transport := rtcstats.NewTransport(cfg.RTCStatsServer, hostname)
	transport.Connect(ctx)

	store := app.NewConferenceStore()
	tracker := app.NewTracker(store, transport, hostname)
	source := jvb.NewSource(cfg.JVBBaseURL, cfg.FetchTimeout)
	relay := app.NewRelay(source, tracker, cfg.PollInterval())

	var srv *http.Server
	if cfg.StatusPort != 0 {
		addr := fmt.Sprintf(":%d", cfg.StatusPort)
		srv = &http.Server{
			Addr:    addr,
			Handler: router.SetupRouter(cfg.Mode, transport, store),
		}
		go func() {
			log.Info().Str("addr", addr).Msg("status endpoint started")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("status server error")
			}
		}()
	}

	log.Info().
		Str("jvb", source.URL()).
		Str("rtcstats", cfg.RTCStatsServer).
		Str("display_name", hostname).
		Msg("StatsRelay started")
	relay.Run(ctx)

	log.Info().Msg("Shutting down")
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}
	log.Info().Msg("Relay exited gracefully")
}
