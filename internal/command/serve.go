package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/studiovault/internal/handlers"
	"github.com/kimhsiao/studiovault/internal/logging"
	"github.com/kimhsiao/studiovault/internal/notify"
	"github.com/kimhsiao/studiovault/internal/services"
)

const shutdownTimeout = 10 * time.Second

// NewServer assembles the HTTP API and event stream around a vault.
// The returned stop function detaches the hub from every collection.
func NewServer(vault *services.Vault, runner handlers.SyncRunner) (http.Handler, *notify.Hub, func()) {
	hub := notify.NewHub(vault.Config.Server.AllowedOrigins...)
	var detach []func()
	for _, c := range vault.Collections() {
		detach = append(detach, hub.Attach(c))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.Handler())
	handlers.NewRecordHandler(vault).Register(mux)
	handlers.NewSyncHandler(runner, vault.Registry, func() interface{} { return vault.Status() }).Register(mux)
	handlers.NewNetworkHandler(vault.Network).Register(mux)

	return mux, hub, func() {
		for _, d := range detach {
			d()
		}
		hub.Close()
	}
}

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and event stream with background sync",
		Long: "Serve the REST API under /api and collection events over WebSocket at /ws. " +
			"The scheduler flushes queued changes periodically and syncs on reconnect.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			vault := cctx.Vault

			addr := cctx.Config.Server.Addr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := vault.Scheduler()
			handler, _, closeHub := NewServer(vault, sched)

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				closeHub()
				cctx.Close()
				return writeCommandError(cmd, err)
			}
			srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			sched.Start(ctx)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (ws://%s/ws)\n", ln.Addr(), ln.Addr())
			logging.Info("server started", map[string]interface{}{"addr": ln.Addr().String()})

			var serveErr error
			select {
			case <-ctx.Done():
			case serveErr = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			sched.Stop()
			closeHub()
			if err := vault.Shutdown(shutdownCtx, shutdownTimeout); err != nil {
				logging.Warn("vault shutdown", map[string]interface{}{"error": err.Error()})
			}
			logging.Info("server stopped")

			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				return writeCommandError(cmd, serveErr)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config)")
	return cmd
}
