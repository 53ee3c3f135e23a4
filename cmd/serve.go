package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chaos-io/bgremover/server"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			remover, err := newRemover()
			if err != nil {
				return err
			}
			ctrl := newController(remover, cfg.OutputDir)
			defer ctrl.Close()

			health, err := server.NewHealthMonitor(remover, cfg.Server.HealthSchedule, log)
			if err != nil {
				return err
			}
			srv := server.New(cfg, ctrl, health, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Run)
			g.Go(func() error {
				<-gctx.Done()
				log.Info("Shutting down gracefully...")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("Server forced to shutdown", zap.Error(err))
					return err
				}
				return nil
			})

			if err := g.Wait(); err != nil {
				return err
			}
			log.Info("Server exited")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
