package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/pairpad/internal/config"
	"github.com/Iron-Ham/pairpad/internal/event"
	"github.com/Iron-Ham/pairpad/internal/logging"
	"github.com/Iron-Ham/pairpad/internal/metrics"
	"github.com/Iron-Ham/pairpad/internal/redisbus"
	"github.com/Iron-Ham/pairpad/internal/session"
	"github.com/Iron-Ham/pairpad/internal/store"
)

// runtime is an engine wired from configuration, plus everything that must
// be closed with it.
type runtime struct {
	cfg      *config.Config
	engine   *session.Engine
	store    store.Store
	bus      *event.Bus
	redis    *redisbus.Hub
	registry *prometheus.Registry
	logger   *logging.Logger
}

// newRuntime builds an engine from cfg. baseDir anchors relative store and
// log directories.
func newRuntime(ctx context.Context, cfg *config.Config, baseDir string) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	logger, err := openLogger(cfg, baseDir)
	if err != nil {
		return nil, err
	}
	rt.logger = logger
	rt.bus = event.NewBus(event.WithLogger(logger))

	st, err := openStore(cfg, baseDir)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = st

	var publisher event.Publisher = event.NewHub(rt.bus)
	if cfg.Broadcast.Kind == "redis" {
		hub, err := redisbus.Dial(ctx, cfg.Broadcast.RedisAddr, cfg.Broadcast.RedisDB,
			redisbus.WithPrefix(cfg.Broadcast.ChannelPrefix),
			redisbus.WithTimeout(cfg.Broadcast.PublishTimeout()),
		)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.redis = hub
		publisher = event.MultiHub{publisher, hub}
	}

	opts := []session.Option{
		session.WithPublisher(publisher),
		session.WithPersister(st),
		session.WithLogger(logger),
		session.WithDefaults(cfg.Settings()),
	}
	if cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		opts = append(opts, session.WithMetrics(metrics.New(rt.registry)))
	}
	rt.engine = session.NewEngine(opts...)

	logger.Debug("runtime ready",
		"store", cfg.Store.Kind,
		"broadcast", cfg.Broadcast.Kind,
		"metrics", cfg.Metrics.Enabled,
	)
	return rt, nil
}

func openLogger(cfg *config.Config, baseDir string) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	logger, err := logging.NewRotatingLogger(logDir(cfg, baseDir), cfg.Logging.Level, cfg.Logging.Rotation())
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return logger, nil
}

// logDir is logging.dir, or a logs directory beside the file store.
func logDir(cfg *config.Config, baseDir string) string {
	if cfg.Logging.Dir != "" {
		return cfg.Logging.Dir
	}
	return filepath.Join(cfg.Store.ResolveDir(baseDir), "logs")
}

func openStore(cfg *config.Config, baseDir string) (store.Store, error) {
	switch cfg.Store.Kind {
	case "file":
		st, err := store.NewFileStore(cfg.Store.ResolveDir(baseDir))
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		return st, nil
	case "memory", "":
		return store.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
}

// Close releases the Redis connection and the log file.
func (rt *runtime) Close() error {
	var errs []error
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.logger != nil {
		errs = append(errs, rt.logger.Close())
	}
	return errors.Join(errs...)
}
