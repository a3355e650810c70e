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

	"go.uber.org/zap"

	"github.com/whbench/whbench/internal/api"
	"github.com/whbench/whbench/internal/config"
	"github.com/whbench/whbench/internal/database"
	"github.com/whbench/whbench/internal/logging"
)

func main() {
	v := config.New()
	v.SetDefault("port", "8080")

	log, err := logging.New(v.GetString(config.KeyLogLevel), v.GetString(config.KeyLogFormat))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	dsn := v.GetString(config.KeyStoreDSN)
	if dsn == "" {
		log.Fatal("WHBENCH_STORE_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := database.NewRepository(ctx, dsn)
	if err != nil {
		log.Fatal("connect to database", zap.Error(err))
	}
	defer repo.Close()
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	api.NewServer(repo, log).RegisterRoutes(mux)

	srv := &http.Server{Addr: ":" + v.GetString("port"), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("whbench results server starting", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
}
