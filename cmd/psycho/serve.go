package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"psycho/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, cfg, err := startAgent(ctx)
			if err != nil {
				return err
			}

			if host == "" {
				host = cfg.APIHost
			}
			if port == 0 {
				port = cfg.APIPort
			}
			srv := server.New(a, server.Config{Host: host, Port: port, Debug: flagDebug}, buildLogger(cfg))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			fmt.Println(okText(fmt.Sprintf("PsychoPortal API on http://%s:%d", host, port)))
			fmt.Println(dim("  REST under /api · websocket at /ws/chat · metrics at /metrics"))

			select {
			case err := <-errCh:
				_ = a.Stop(context.Background(), false)
				return err
			case <-ctx.Done():
			}

			fmt.Println()
			printSystem("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				printError("server shutdown: " + err.Error())
			}
			return a.Stop(shutdownCtx, false)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "bind host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "bind port (default from config)")
	return cmd
}
