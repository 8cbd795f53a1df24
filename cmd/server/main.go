package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drophub/drophub/internal/config"
	"github.com/drophub/drophub/internal/credential"
	"github.com/drophub/drophub/internal/dispatcher"
	"github.com/drophub/drophub/internal/logs"
	"github.com/drophub/drophub/internal/metrics"
	"github.com/drophub/drophub/internal/middleware"
	"github.com/drophub/drophub/internal/roomstore"
	"github.com/drophub/drophub/internal/wsrpc"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger := logs.New(os.Getenv("DROPHUB__LOG_LEVEL"))
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", logs.F("err", err))
	}

	metrics.Init()

	codec := credential.NewCodec(cfg.CredentialSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	store := roomstore.New()
	disp := dispatcher.New(store, codec, logger, nil)
	limiter := middleware.New(cfg.WSRatePerMin)

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle(cfg.MetricsRoute, metrics.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"drophub","ok":true}`))
	})

	mux.Handle("/ws", wsrpc.NewHandler(cfg, logger, disp, codec, store, limiter))

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           logs.RequestLogger(logger, mux),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		logger.Info("listening", logs.F("addr", cfg.BindAddr))
		var err error
		if cfg.TLSCertFile != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("bye")
}
