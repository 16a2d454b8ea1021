package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solink/solink-server/auth"
	"github.com/solink/solink-server/blobstore"
	"github.com/solink/solink-server/callroom"
	"github.com/solink/solink-server/config"
	"github.com/solink/solink-server/directory"
	"github.com/solink/solink-server/gateway"
	"github.com/solink/solink-server/inbox"
	"github.com/solink/solink-server/kvstore"
	"github.com/solink/solink-server/observability/prom"
	"github.com/solink/solink-server/push"
	"github.com/solink/solink-server/ratelimit"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := cfg.NewLogger()
	cfg.LogConfig(log)

	store := kvstore.New(cfg.CleanupInterval)
	defer store.Close()

	reg := prom.NewRegistry()
	obs := prom.NewObserver(reg)

	authSvc := auth.New(store, log, auth.WithDefaultSessionTTL(cfg.SessionTTLSeconds))
	dir := directory.New(store, log)
	inboxSvc := inbox.New(store, log)
	limiter := ratelimit.New(store, cfg.RateLimit, cfg.RateWindow)
	blobs := blobstore.New(store, log)

	calls := callroom.NewRegistry(store, authSvc, log, callroom.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowNoOrigin:  cfg.AllowNoOrigin,
		SweepInterval:  cfg.SweepInterval,
		Observer:       obs,
	})
	defer calls.Close()

	notifier, err := push.New(cfg.NATSURL, log, obs)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect failed")
	}
	defer notifier.Close()

	gw := gateway.New(log, gateway.Options{
		Auth:           authSvc,
		Directory:      dir,
		Inbox:          inboxSvc,
		Limiter:        limiter,
		Blobs:          blobs,
		Calls:          calls,
		Push:           notifier,
		AllowedOrigins: cfg.AllowedOrigins,
		Metrics:        prom.Handler(reg),
		Observer:       obs,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
	log.Info().Msg("bye")
}
