package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/duet/internal/relay"
	"github.com/roach88/duet/internal/store"
)

const (
	relayReadHeaderTimeout = 10 * time.Second
	relayShutdownTimeout   = 5 * time.Second
)

// RelayOptions holds flags for the relay command.
type RelayOptions struct {
	*RootOptions
	Addr   string
	Driver string
	Path   string
}

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the broadcast and presence relay",
		Long: `Run the websocket relay players connect to.

The relay fans broadcasts out to the other subscribers of a room channel,
keeps the presence registry, and serves the scenario store at /kv/ for
players using DUET_STORE_DRIVER=remote.

Example:
  duet relay --addr :8787 --store-driver bolt --store-path ./duet.bolt`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default $DUET_RELAY_ADDR)")
	cmd.Flags().StringVar(&opts.Driver, "store-driver", "", "store backend: sqlite, bolt or memory (default $DUET_STORE_DRIVER)")
	cmd.Flags().StringVar(&opts.Path, "store-path", "", "database file (default $DUET_STORE_PATH)")

	return cmd
}

func (o *RelayOptions) resolve() (addr, driver, path string) {
	addr, driver, path = o.Addr, o.Driver, o.Path
	if addr == "" {
		addr = o.Config.RelayAddr
	}
	if driver == "" {
		driver = o.Config.StoreDriver
	}
	if path == "" {
		path = o.Config.StorePath
	}
	return addr, strings.ToLower(driver), path
}

func runRelay(opts *RelayOptions, cmd *cobra.Command) error {
	logger := opts.logger()
	addr, driver, path := opts.resolve()

	if driver == store.DriverRemote {
		return NewExitError(ExitCommandError, "the relay cannot use the remote store driver")
	}

	backend, err := store.OpenBackend(driver, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "open store", err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()
	logger.Info("store ready", "driver", driver, "path", path)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "listen on "+addr, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := relay.New(relay.WithStore(backend), relay.WithLogger(logger))
	fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := serveRelay(ctx, ln, srv, logger); err != nil {
		return WrapExitError(ExitFailure, "relay error", err)
	}
	logger.Info("relay stopped gracefully")
	return nil
}

// serveRelay serves srv on ln until ctx ends, then closes every websocket
// and shuts the HTTP server down.
func serveRelay(ctx context.Context, ln net.Listener, srv *relay.Server, logger *slog.Logger) error {
	httpServer := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: relayReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()
	logger.Info("relay listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		logger.Info("shutting down relay", "channels", srv.Channels())
		_ = srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), relayShutdownTimeout)
		err := httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
