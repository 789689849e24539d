package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/attendmeet/internal/adapters/http"
	sigadapter "github.com/dkeye/attendmeet/internal/adapters/signal"
	"github.com/dkeye/attendmeet/internal/app"
	"github.com/dkeye/attendmeet/internal/app/orch"
	"github.com/dkeye/attendmeet/internal/attendance"
	"github.com/dkeye/attendmeet/internal/config"
	"github.com/dkeye/attendmeet/internal/metrics"
	"github.com/dkeye/attendmeet/internal/verify"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	fs := afero.NewOsFs()
	ledger, err := openLedger(fs, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Error().Err(err).Msg("closing ledger")
		}
	}()

	reg := app.NewRegistry(m)
	o := &orch.Orchestrator{
		Registry: reg,
		Relay:    app.NewRelay(reg, app.SimplePolicy{}, m),
	}

	var sched *verify.Scheduler
	if cfg.Verification.Enabled {
		samples, err := verify.NewSampleStore(fs, cfg.Gateway.ReferenceDir, cfg.Gateway.StagingDir)
		if err != nil {
			return err
		}
		engine := verify.NewHTTPEngine(cfg.Gateway.URL, cfg.Gateway.Timeout)
		gw := verify.NewGateway(samples, engine, cfg.Gateway.Timeout, m)
		sched = verify.NewScheduler(gw, ledger, verify.Options{
			InitialDelay:   cfg.Verification.InitialDelay,
			Interval:       cfg.Verification.Interval,
			CaptureTimeout: cfg.Verification.CaptureTimeout,
		}, m)
		roles, err := cfg.Verification.RoleSet()
		if err != nil {
			return err
		}
		o.Verifier = sched
		o.VerifyRoles = roles
		log.Info().Str("engine", cfg.Gateway.URL).Strs("roles", cfg.Verification.Roles).Msg("verification enabled")
	}

	ctrl := sigadapter.NewSignalWSController(o, sigadapter.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait,
		WriteWait:    cfg.WriteWait,
		SendBuffer:   cfg.SendBuffer,
		ICEServers:   cfg.WebRTCICEServers(),
		ChatLimit:    cfg.Chat.RateLimit,
		ChatInterval: cfg.Chat.RateInterval,
	})

	r := router.SetupRouter(ctx, cfg, o, ctrl, promReg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("AttendMeet server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		// in-flight attempts still reach the ledger
		if sched != nil {
			sched.Shutdown()
		}
		return nil
	})
	return g.Wait()
}

func openLedger(fs afero.Fs, cfg *config.Config, m *metrics.Metrics) (*attendance.Ledger, error) {
	if err := fs.MkdirAll(filepath.Dir(cfg.Ledger.DSN), 0o755); err != nil {
		return nil, fmt.Errorf("ledger dir: %w", err)
	}
	store, err := attendance.OpenSQLStore(cfg.Ledger.DSN)
	if err != nil {
		return nil, err
	}
	flat, err := attendance.OpenFlatLog(fs, cfg.Ledger.LogPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info().Str("dsn", cfg.Ledger.DSN).Str("log", cfg.Ledger.LogPath).Msg("attendance ledger ready")
	return attendance.NewLedger(m, store, flat), nil
}
