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

	"mediaindex/internal/api"
	"mediaindex/internal/dash"
	"mediaindex/internal/metrics"
	"mediaindex/internal/session"
)

func newServeCmd(a *app) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HLS server",
		Long: `Start the HTTP server exposing the configured channels.

The server provides:
- HLS master playlists at /live/{channel}.m3u8
- HLS media playlists at /live/{channel}/{representation}/playlist.m3u8
- segment listings at /live/{channel}/{representation}/segments
- Prometheus metrics at /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd)
		},
	}
	serveCmd.Flags().String("host", "", "Host to bind to (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
	return serveCmd
}

func (a *app) runServe(cmd *cobra.Command) error {
	if cmd.Flags().Changed("host") {
		a.cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		a.cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	log := a.logger
	log.Infof("Starting segment index server with %d channels", len(a.cfg.Channels))

	m := metrics.New()
	dashClient := dash.NewClient(log, a.cfg.Fetch.UserAgent, a.cfg.Fetch.HeaderTimeout)
	sessionMgr := session.NewManager(log, a.cfg, dashClient, m)
	sessionMgr.Start()

	server := &http.Server{
		Addr:              a.cfg.Server.Address(),
		Handler:           api.New(sessionMgr, log, m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		sessionMgr.Stop()
		if err != nil {
			return fmt.Errorf("listening on %s: %w", server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Infof("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	sessionMgr.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Infof("Server exited gracefully")
	return nil
}
