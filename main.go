package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/bryan-buckman/listfeed/internal/config"
	"github.com/bryan-buckman/listfeed/internal/database"
	"github.com/bryan-buckman/listfeed/internal/docstore"
	"github.com/bryan-buckman/listfeed/internal/feed"
	"github.com/bryan-buckman/listfeed/internal/loader"
	"github.com/bryan-buckman/listfeed/internal/logging"
	"github.com/bryan-buckman/listfeed/internal/metrics"
	"github.com/bryan-buckman/listfeed/internal/queue"
	"github.com/bryan-buckman/listfeed/internal/server"
	"github.com/bryan-buckman/listfeed/internal/source"
	"github.com/bryan-buckman/listfeed/internal/warm"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "listfeed: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, conn, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("queue store opened", zap.String("type", store.DatabaseType()), zap.String("namespace", cfg.Store.Namespace))

	fetcher, closeDocs, err := openDocuments(ctx, cfg, conn)
	if err != nil {
		return err
	}
	defer closeDocs()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	qm, sess := buildEngine(cfg, store, fetcher, mt, log)
	defer sess.Close()

	if cfg.Warm.Schedule != "" {
		w, err := warm.New(qm, cfg.Warm.Schedule, cfg.Feed.RefillLimit, cfg.Feed.StaleAfter, log)
		if err != nil {
			return err
		}
		w.Start()
		defer w.Stop()
	}

	srv := server.New(sess, qm, reg, log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Server.Addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// buildEngine wires the queue manager, batch loader and feed session, each
// with its own named logger.
func buildEngine(cfg config.Config, store database.Store, fetcher loader.DocumentFetcher, mt *metrics.Metrics, log *zap.Logger) (*queue.Manager, *feed.Session) {
	client := &http.Client{Timeout: cfg.Source.Timeout}
	qm := queue.NewManager(store, cfg.Store.Namespace, newSource(cfg.Source, client),
		queue.WithLogger(log.Named("queue")),
		queue.WithMetrics(mt),
		queue.WithLocation(cfg.Location()),
	)

	ld := loader.New(fetcher,
		loader.WithLogger(log.Named("loader")),
		loader.WithMetrics(mt),
		loader.WithPreviewSize(cfg.Feed.PreviewSize),
	)

	sess := feed.NewSession(qm, ld, feed.Config{
		BatchSize:   cfg.Feed.BatchSize,
		RefillLimit: cfg.Feed.RefillLimit,
		Window:      cfg.Feed.StaleAfter,
	}, feed.WithLogger(log.Named("feed")), feed.WithMetrics(mt))
	return qm, sess
}

// openStore returns the queue store and, for SQL drivers, its connection so
// documents can be served from the same database.
func openStore(c config.StoreConfig) (database.Store, *sql.DB, error) {
	switch c.Driver {
	case "sqlite":
		db, err := database.New(c.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Conn(), nil
	case "postgres":
		db, err := database.NewPostgres(c.DSN)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Conn(), nil
	case "redis":
		db, err := database.NewRedis(database.RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPass,
			DB:       c.RedisDB,
			PoolSize: c.RedisPoolSize,
		})
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	case "nats":
		db, err := database.NewNATS(c.NatsURL, c.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	case "memory":
		return database.NewMemory(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", c.Driver)
}

func openDocuments(ctx context.Context, cfg config.Config, conn *sql.DB) (loader.DocumentFetcher, func(), error) {
	switch cfg.Documents.Kind {
	case "mongo":
		m, err := docstore.NewMongo(ctx, docstore.MongoConfig{
			URI:         cfg.Documents.URI,
			Database:    cfg.Documents.Database,
			Collection:  cfg.Documents.Collection,
			MaxPoolSize: cfg.Documents.MaxPoolSize,
			MaxRetry:    cfg.Documents.MaxRetry,
		})
		if err != nil {
			return nil, nil, err
		}
		return m, func() { _ = m.Close(context.Background()) }, nil
	case "sql":
		if conn == nil {
			return nil, nil, errors.New("sql documents need a sqlite or postgres store")
		}
		if cfg.Store.Driver == "postgres" {
			return docstore.NewPostgres(conn), func() {}, nil
		}
		return docstore.NewSQLite(conn), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown documents kind %q", cfg.Documents.Kind)
}

func newSource(c config.SourceConfig, client *http.Client) queue.CandidateSource {
	if c.Kind == "feed" {
		return source.NewFeed(c.URL, client)
	}
	return source.NewSearch(source.SearchConfig{
		Endpoint:     c.URL,
		APIKey:       c.APIKey,
		APIKeyHeader: c.APIKeyHeader,
		Filters:      c.Filters,
	}, client)
}
