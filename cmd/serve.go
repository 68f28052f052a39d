package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangalib-parser/internal/api"
	"github.com/JakeFAU/mangalib-parser/internal/clock/system"
	"github.com/JakeFAU/mangalib-parser/internal/config"
	"github.com/JakeFAU/mangalib-parser/internal/dispatcher"
	queuememory "github.com/JakeFAU/mangalib-parser/internal/queue/memory"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP ingress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps(cmd, *cfgFile, browserOverrides)
			if err != nil {
				return err
			}
			defer d.Close()
			return serve(cmd.Context(), d)
		},
	}
	cmd.Flags().Int("port", 0, "web server port")
	cmd.Flags().Int("browsers", 0, "max concurrent chapter lookups per job")
	return cmd
}

func browserOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("browsers") {
		cfg.Chrome.MaxCount, _ = cmd.Flags().GetInt("browsers")
	}
}

func serve(parent context.Context, d *deps) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator, err := d.orchestrator(ctx)
	if err != nil {
		return err
	}
	queue := queuememory.NewQueue(d.cfg.Ingress.QueueDepth)
	dispatch := dispatcher.NewPool(queue, orchestrator, d.cfg.Ingress.Workers, d.cfg.Chrome.MaxCount, d.logger.Named("worker"))
	apiServer := api.NewServer(dispatch, system.New(), api.Config{EnqueueTimeout: d.cfg.EnqueueTimeout()}, d.logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", d.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		d.logger.Info("dispatcher started", zap.Int("workers", d.cfg.Ingress.Workers))
		dispatch.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		d.logger.Info("http server started", zap.Int("port", d.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	d.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	<-dispatched
	d.logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
