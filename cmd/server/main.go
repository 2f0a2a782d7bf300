package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"panoptes.zcraft.fr/internal/config"
	"panoptes.zcraft.fr/internal/locale"
	"panoptes.zcraft.fr/internal/metrics"
	"panoptes.zcraft.fr/internal/persistence/prism"
	"panoptes.zcraft.fr/internal/persistence/querylog"
	"panoptes.zcraft.fr/internal/ratios"
	"panoptes.zcraft.fr/internal/transport/httpapi"
)

func main() {
	var (
		configPath = flag.String("config", "", "configuration file (.toml, .yaml or .yml); default $PANOPTES_CONFIG, then Panoptes.toml when present")
		envFile    = flag.String("env", ".env", "optional .env file loaded before the environment overrides")
	)
	flag.Parse()

	boot := logrus.New()
	if err := config.LoadDotEnv(*envFile); err != nil {
		boot.Fatalf("load env file: %v", err)
	}
	cfg, err := config.LoadDefault(*configPath)
	if err != nil {
		boot.Fatalf("load config: %v", err)
	}
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		boot.Fatalf("logger: %v", err)
	}

	registry, err := cfg.Registry()
	if err != nil {
		logger.Fatalf("areas: %v", err)
	}
	if registry.Len() == 0 {
		logger.Warn("no area configured; every ratios request will be rejected")
	}

	store, err := prism.Open(cfg.Store())
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer store.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("database not reachable yet")
	}
	cancelPing()

	catalog := locale.Scan(cfg.Translations.Directory, cfg.Translations.DefaultLocale, logger)

	journal := querylog.Open(cfg.QueryLog.Directory)
	defer journal.Close()

	m := metrics.New()
	svcOpts := []ratios.Option{ratios.WithLogger(logger), ratios.WithRecorder(m)}
	if journal != nil {
		svcOpts = append(svcOpts, ratios.WithJournal(journal))
	}
	svc, err := ratios.NewService(registry, catalog, store, cfg.Service(), svcOpts...)
	if err != nil {
		logger.Fatalf("ratios service: %v", err)
	}
	defer svc.Close()
	if err := m.RegisterCaches(svc.CacheStats); err != nil {
		logger.Fatalf("register cache metrics: %v", err)
	}

	api := httpapi.New(svc, httpapi.Options{
		CORS:        cfg.CORS,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		Metrics:     m,
		Log:         logger,
		Ping:        store.Ping,
		EnablePprof: cfg.Pprof,
	})
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.WithFields(logrus.Fields{
		"listen":  cfg.Listen,
		"driver":  store.Dialect(),
		"areas":   registry.Len(),
		"locales": len(catalog.Codes()),
	}).Info("panoptes listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	logger.Info("stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
