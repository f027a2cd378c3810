package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/logging"
	"github.com/MrCodeEU/facecheck/pkg/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session HTTP API",
	Long: `Start the session API. Clients create sessions, push one observation
per frame and poll the session report until it captures or fails.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Address to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	listen := mustGetString(cmd, "listen")
	if listen == "" {
		listen = os.Getenv("FACECHECK_LISTEN")
	}
	if listen == "" {
		listen = cfg.Server.Listen
	}

	e, err := newEngine(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	srv := server.New(server.Options{
		Listen:      listen,
		Engine:      cfg.Engine(),
		Deps:        e.deps(nil),
		Store:       e.store,
		MaxSessions: cfg.Server.MaxSessions,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Infof("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
