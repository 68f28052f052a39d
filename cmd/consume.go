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

	"github.com/JakeFAU/mangalib-parser/internal/config"
	"github.com/JakeFAU/mangalib-parser/internal/metrics"
	"github.com/JakeFAU/mangalib-parser/internal/queue/amqp"
)

func newConsumeCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume scrape jobs from RabbitMQ",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps(cmd, *cfgFile, consumeOverrides)
			if err != nil {
				return err
			}
			defer d.Close()
			return consume(cmd.Context(), d)
		},
	}
	cmd.Flags().String("url", "", "AMQP URI (defaults to AMQP_URL)")
	cmd.Flags().Int("browsers", 0, "max concurrent chapter lookups per job")
	return cmd
}

func consumeOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("url") {
		cfg.AMQP.URL, _ = cmd.Flags().GetString("url")
	}
	if cmd.Flags().Changed("browsers") {
		cfg.Chrome.MaxCount, _ = cmd.Flags().GetInt("browsers")
	}
}

func consume(parent context.Context, d *deps) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator, err := d.orchestrator(ctx)
	if err != nil {
		return err
	}
	if d.cfg.Metrics.Port > 0 {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", d.cfg.Metrics.Port),
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			d.logger.Info("metrics listener started", zap.Int("port", d.cfg.Metrics.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	topology := amqp.DefaultTopology()
	topology.Durable = d.cfg.AMQP.Durable
	consumer := amqp.NewConsumer(orchestrator, d.cfg.Chrome.MaxCount, topology, d.logger.Named("amqp"))

	err = consumer.Run(ctx, d.cfg.AMQP.URL)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("consume: %w", err)
	}
	d.logger.Info("consumer stopped")
	return nil
}
