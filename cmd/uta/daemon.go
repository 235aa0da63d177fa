package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/uta/internal/controlplane"
	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/scheduler"
)

var listenAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the UTA daemon",
	Long:  `Starts the HTTP API and the scheduler that runs queued tasks on the configured devices.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (default from config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if listenAddr == "" {
		listenAddr = cfg.Server.Addr
	}
	logger := logging.With("component", "daemon")
	logger.Info("starting UTA daemon", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := newStack(ctx)
	if err != nil {
		return err
	}

	service := controlplane.NewService(st.store, st.pdr)
	server := controlplane.NewServer(service, st.registry, listenAddr, version)

	sched := scheduler.New(st.store, st.pdr, scheduler.RunnerFunc(st.runTask), scheduler.FromConfig(cfg))
	sched.Start()

	// Channel to receive server errors
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !controlplane.IsServerClosed(err) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("received signal, initiating graceful shutdown")
	case err = <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("stopping scheduler")
	sched.Stop()

	if err := st.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}
	logger.Info("shutdown complete")
	return err
}
