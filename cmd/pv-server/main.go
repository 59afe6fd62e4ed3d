// Package main provides the standalone HTTP server for physical-verification
// analysis. Runs execute in-process; shutdown drains them.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/scholarship-verification/internal/api"
	"github.com/fpang/scholarship-verification/internal/bootstrap"
	"github.com/fpang/scholarship-verification/internal/config"
	"github.com/fpang/scholarship-verification/internal/logging"
	"github.com/fpang/scholarship-verification/internal/worker"
)

// CLI flags
var (
	addrFlag       string
	modelFlag      string
	ragBackendFlag string
)

var rootCmd = &cobra.Command{
	Use:   "pv-server",
	Short: "HTTP API for physical-verification analysis",
	Long: `pv-server accepts volunteer submissions, runs the analysis pipeline in
the background and serves job status, photo quality checks, admin decisions
and case index statistics.

Examples:
  pv-server
  pv-server --addr :9090
  pv-server --rag-backend memory --model gemini-2.5-pro`,
	RunE: runMain,
}

func init() {
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (default PV_HTTP_ADDR or :8080)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model override")
	rootCmd.Flags().StringVar(&ragBackendFlag, "rag-backend", "", "Case index backend: memory, sqlite, pgvector, dataapi")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if addrFlag != "" {
		cfg.HTTPAddr = addrFlag
	}
	if modelFlag != "" {
		cfg.GeminiModel = modelFlag
	}
	if ragBackendFlag != "" {
		cfg.RAG.Backend = ragBackendFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn().Err(err).Msg("Shutdown cleanup failed")
		}
	}()

	svc := worker.FromApp(app, nil)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewServer(svc, app.Quality, app.Index, cfg.OriginVerifySecret).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	app.StartupLog("pv-server", initStart)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("In-flight runs did not finish")
	}
	return nil
}
