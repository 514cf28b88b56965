package pgtable

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/pgtable/pkg/events"
	"github.com/edgeflare/pgtable/pkg/httputil"
	mw "github.com/edgeflare/pgtable/pkg/httputil/middleware"
	"github.com/edgeflare/pgtable/pkg/metrics"
	"github.com/edgeflare/pgtable/pkg/pgx"
	"github.com/edgeflare/pgtable/pkg/rest"
	"github.com/edgeflare/pgtable/pkg/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Starts a REST API server that provides access to PostgreSQL tables through HTTP endpoints`,
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("server.listenAddr", "l", "", "REST server listen address")
	f.String("server.baseURL", "", "Base path for API endpoints")
	f.String("server.keyDelimiter", "", "Separator of the values of a composite key in URLs")
	f.Duration("pg.statementTimeout", 0, "Abort statements running longer than this")
	f.Bool("metrics.enabled", false, "Serve Prometheus metrics")
	f.String("metrics.addr", "", "Metrics server listen address")
}

// connect opens the configured pool and returns an executor over it.
func connect(ctx context.Context, logger *zap.Logger) (*pgx.Executor, func(), error) {
	pools := pgx.NewPoolManager()
	err := pools.Add(ctx, pgx.Pool{
		Name:           "default",
		ConnString:     cfg.PG.ConnString,
		MaxConns:       cfg.PG.MaxConns,
		ConnectTimeout: cfg.PG.ConnectTimeout,
	}, true)
	if err != nil {
		return nil, nil, err
	}
	pool, err := pools.Active()
	if err != nil {
		pools.Close()
		return nil, nil, err
	}
	exec := pgx.NewExecutor(pool,
		pgx.WithStatementTimeout(cfg.PG.StatementTimeout),
		pgx.WithLogger(logger))
	return exec, pools.Close, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if f := cfg.File(); f != "" {
		logger.Info("using config file", zap.String("file", f))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exec, closePool, err := connect(ctx, logger)
	if err != nil {
		return err
	}
	defer closePool()

	publisher, err := events.Open(ctx, cfg.Events.Sinks, logger.Named("events"), events.WithConnectTimeout(cfg.Events.ConnectTimeout))
	if err != nil {
		return fmt.Errorf("open event sinks: %w", err)
	}
	defer publisher.Close()

	registry := table.NewRegistry(exec,
		table.WithPublisher(publisher),
		table.WithRegistryLogger(logger),
		table.WithDiscoveryTimeout(cfg.PG.DiscoveryTimeout))

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
			Logger: logger,
		})
	}

	router := httputil.NewRouter(
		httputil.WithLogger(logger),
		httputil.WithServerOptions(func(s *http.Server) {
			s.ReadHeaderTimeout = 10 * time.Second
		}),
	)
	stack := []httputil.Middleware{mw.RequestID, mw.CORSWithOptions(cfg.Server.CORS)}
	if logLevel != "none" {
		stack = append(stack, mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger.Named("http")}))
	}
	router.Use(mw.Stack(stack...))

	rest.NewServer(registry, exec, rest.Options{
		BasePath:     cfg.Server.BaseURL,
		KeyDelimiter: cfg.Server.KeyDelimiter,
		Logger:       logger,
	}).Register(router)

	errCh := make(chan error, 1)
	go func() {
		if err := router.ListenAndServe(cfg.Server.ListenAddr); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Info("received termination signal, shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err = router.Shutdown(shutdownCtx)
	}

	stop()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info("server gracefully stopped")
	return nil
}
