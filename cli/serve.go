package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stevemurr/masterlist/handler"
	"github.com/stevemurr/masterlist/importer"
	"github.com/stevemurr/masterlist/registry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Example: `  # JSON files under ./data on port 8080
  masterlist serve

  # SQLite without cgo
  masterlist serve --store sqlite --sqlite-driver pure`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Log, cmd.ErrOrStderr())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	reg, err := registry.New(ctx, s, log)
	if err != nil {
		return err
	}
	n, err := reg.LoadAll(ctx)
	if err != nil {
		return err
	}

	h := handler.New(reg, s, importer.New(s, cfg.Import.Workers, log), log, handler.Options{
		Timeout:        cfg.Store.Timeout,
		MaxUploadBytes: cfg.Import.MaxUploadBytes,
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.CORS(handler.LogRequests(h, log), cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.WithFields(logrus.Fields{
		"addr":    cfg.Addr(),
		"store":   cfg.Store.Backend,
		"data":    cfg.DataDir,
		"schemas": n,
	}).Info("masterlist starting")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
