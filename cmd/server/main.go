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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Relay/internal/adapters/http"
	"github.com/dkeye/Relay/internal/adapters/rtc"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/engine"
	"github.com/dkeye/Relay/internal/logger"
	"github.com/dkeye/Relay/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// console logger first so config.Load can report
	logger.Bootstrap()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	closer, err := logger.Setup(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}

	err = run(ctx, cfg)
	_ = closer.Close()
	if err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	worker, err := rtc.NewWorker(cfg.RTC)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer worker.Close()

	rtr, err := worker.CreateRouter(ctx, engine.RouterOptions{MediaCodecs: codecCapabilities(cfg.MediaCodecs)})
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	policy, err := app.PolicyByName(cfg.ConsumePolicy)
	if err != nil {
		return err
	}
	registry := app.NewRegistry(cfg.MaxSessions, m)
	o := orch.New(registry, rtr, sfu.NewFanout(), m)
	o.Policy = policy
	o.TransportOptions = engine.WebRtcTransportOptions{
		ListenInfos: []engine.ListenInfo{{Ip: cfg.RTC.ListenIP, AnnouncedIp: cfg.RTC.AnnouncedIP}},
		EnableUdp:   cfg.RTC.EnableUDP,
		EnableTcp:   cfg.RTC.EnableTCP,
		PreferUdp:   cfg.RTC.PreferUDP,
	}

	g, gctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(gctx, cfg, o, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-worker.Died():
			return fmt.Errorf("engine died: %w", err)
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Int("sessions", registry.Len()).Msg("Shutting down")
		registry.CloseAll()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited gracefully")
		return nil
	})

	return g.Wait()
}

func codecCapabilities(codecs []config.CodecConfig) []engine.RtpCodecCapability {
	out := make([]engine.RtpCodecCapability, 0, len(codecs))
	for _, c := range codecs {
		out = append(out, engine.RtpCodecCapability{
			Kind:       engine.MediaKind(c.Kind),
			MimeType:   c.MimeType,
			ClockRate:  c.ClockRate,
			Channels:   c.Channels,
			Parameters: c.Parameters,
		})
	}
	return out
}
