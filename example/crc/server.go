package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/nonblock"
	"github.com/Zereker/nonblock/example/crc/checksum"
	"github.com/Zereker/nonblock/metrics"
)

const shutdownTimeout = 5 * time.Second

func newServerCommand(load func() config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the checksum server",
		Long: `Run the checksum server until SIGINT or SIGTERM.

In eventloop mode (linux only) a single goroutine multiplexes every
connection over epoll. In goroutine mode each connection gets its own
read and write goroutines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, load())
		},
	}
}

func runServer(ctx context.Context, cfg config) error {
	logger, err := cfg.logger()
	if err != nil {
		return err
	}

	m := metrics.New("crc")
	registry := prometheus.NewRegistry()
	if err = m.Register(registry); err != nil {
		return errors.Wrap(err, "register metrics")
	}

	svc := checksum.NewService(logger)
	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddress != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	switch cfg.Mode {
	case modeEventLoop:
		g.Go(func() error {
			return serveEventLoop(ctx, cfg, svc, m, logger)
		})
	case modeGoroutine:
		g.Go(func() error {
			return serveGoroutine(ctx, cfg, svc, m, logger)
		})
	default:
		return errors.Errorf("unknown mode %q", cfg.Mode)
	}

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		return err
	}
	return nil
}

func serveGoroutine(ctx context.Context, cfg config, svc *checksum.Service, m *metrics.Metrics, logger nonblock.Logger) error {
	addr, err := net.ResolveTCPAddr("tcp", cfg.Address)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", cfg.Address)
	}

	server, err := nonblock.New(addr,
		nonblock.ServerLoggerOption(logger),
		nonblock.ServerShutdownTimeoutOption(shutdownTimeout),
		nonblock.ServerConnOption(
			nonblock.LimitsOption(cfg.limits()),
			nonblock.LoggerOption(logger),
			nonblock.OnErrorOption(func(err error) nonblock.ErrorAction {
				m.ObserveError(err)
				return nonblock.Disconnect
			}),
		),
	)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Address)
	}

	return server.Serve(ctx, nonblock.HandlerFunc(func(conn *nonblock.Conn, message *nonblock.Message) error {
		m.ObserveRead(message)
		start := time.Now()
		defer m.ObserveHandler(start)
		return svc.ServeMessage(conn, message)
	}))
}
