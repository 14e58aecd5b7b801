package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/config"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/detect"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/metrics"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/reconcile"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/remote"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/remote/httprepo"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/remote/redisrepo"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/storage/postgres"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/storage/sqlite"
)

// app is the wiring shared by commands that touch the ledger.
type app struct {
	cfg     config.Config
	logger  *logging.Logger
	metrics *metrics.Memory
	store   ledger.Store
	svc     *reconcile.Service
	closers []io.Closer
}

// loadConfig reads --config when given, otherwise the environment, then
// applies the --db override.
func loadConfig(opts *RootOptions) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.Load(opts.ConfigPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Store.DSN = opts.Database
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openApp opens the store and remote named by the configuration and builds
// the reconcile service. Diagnostics go to logOut.
func openApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  logging.NewLoggerWithWriter(logOut, cfg.Logging),
		metrics: metrics.NewMemory(),
	}

	a.store, err = openStore(ctx, cfg.Store, a.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}
	a.closers = append(a.closers, a.store)

	repo, err := a.openRemote(ctx, cfg.Remote)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to connect to remote", err)
	}

	svcOpts := []reconcile.Option{
		reconcile.WithLogger(a.logger),
		reconcile.WithMetrics(a.metrics),
		reconcile.WithQueueConfig(cfg.QueueConfig()),
		reconcile.WithDetector(detect.New(
			detect.WithTimestampTolerance(cfg.Detection.TimestampTolerance.Std()),
			detect.WithLogger(a.logger),
		)),
	}
	if cfg.Detection.FailClosed {
		svcOpts = append(svcOpts, reconcile.WithFailClosedDetection())
	}
	a.svc, err = reconcile.New(a.store, repo, svcOpts...)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build reconciler", err)
	}

	if err := a.svc.LoadStrategies(ctx); err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load merge strategies", err)
	}
	bindings, err := cfg.Bindings()
	if err == nil && len(bindings) > 0 {
		err = a.svc.Registry().Apply(ctx, bindings)
	}
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to apply configured strategies", err)
	}
	return a, nil
}

func openStore(ctx context.Context, sc config.StoreConfig, logger *logging.Logger) (ledger.Store, error) {
	switch sc.Driver {
	case config.DriverPostgres:
		return postgres.New(ctx, &postgres.Config{ConnectionString: sc.DSN, Logger: logger})
	case config.DriverSQLite, "":
		return sqlite.New(ctx, &sqlite.Config{Path: sc.DSN, EnableWAL: true, Logger: logger})
	}
	return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

func (a *app) openRemote(ctx context.Context, rc config.RemoteConfig) (remote.Repository, error) {
	switch rc.Kind {
	case config.RemoteHTTP:
		return httprepo.New(rc.URL,
			httprepo.WithToken(rc.Token),
			httprepo.WithTimeout(rc.Timeout.Std()),
			httprepo.WithLogger(a.logger),
		)
	case config.RemoteRedis:
		repo, err := redisrepo.New(ctx, rc.URL, rc.Prefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo)
		return repo, nil
	case config.RemoteNone, "":
		return remote.Offline{}, nil
	}
	return nil, fmt.Errorf("unknown remote kind %q", rc.Kind)
}

// Close releases the service, the remote and the store, in that order.
func (a *app) Close() error {
	var first error
	if a.svc != nil {
		first = a.svc.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
