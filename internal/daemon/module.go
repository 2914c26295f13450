// Package daemon composes the messaging core: connection manager,
// subscription registry, reconciler, cache mirror and their lifecycle.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lifelink/commsync/internal/auth"
	"github.com/lifelink/commsync/internal/bus"
	"github.com/lifelink/commsync/internal/config"
	"github.com/lifelink/commsync/internal/lock"
	"github.com/lifelink/commsync/internal/logging"
	"github.com/lifelink/commsync/internal/profile"
	"github.com/lifelink/commsync/internal/realtime"
	"github.com/lifelink/commsync/internal/reconcile"
	"github.com/lifelink/commsync/internal/rest"
	"github.com/lifelink/commsync/internal/status"
	"github.com/lifelink/commsync/internal/store"
	intsync "github.com/lifelink/commsync/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the messaging core, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCredentials,
			provideManager,
			provideRegistry,
			provideRESTClient,
			provideReconciler,
			providePoller,
			provideSyncEngine,
			NewCore,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CacheDBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params) auth.Provider {
	return auth.NewFileProvider(profile.TokenPath(p.ProfileName))
}

func provideManager(cfg *config.Config, creds auth.Provider, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *realtime.Manager {
	return realtime.NewManager(cfg.Realtime, cfg.SocketURL, creds, realtime.DialWebSocket, machine, b, logger)
}

func provideRegistry(m *realtime.Manager, b *bus.Bus, logger *zap.Logger) *realtime.Registry {
	return realtime.NewRegistry(m, b, logger)
}

func provideRESTClient(cfg *config.Config, creds auth.Provider) *rest.Client {
	return rest.New(cfg.APIBaseURL, creds)
}

func provideReconciler(api *rest.Client, creds auth.Provider, b *bus.Bus, logger *zap.Logger, cfg *config.Config) *reconcile.Reconciler {
	return reconcile.New(api, creds, b, logger, cfg.Reconcile)
}

func providePoller(rec *reconcile.Reconciler, m *realtime.Manager, logger *zap.Logger, cfg *config.Config) *reconcile.Poller {
	return reconcile.NewPoller(rec, m, logger, cfg.Reconcile.PollInterval())
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	core *Core,
	lk *lock.Lock,
	manager *realtime.Manager,
	registry *realtime.Registry,
	rec *reconcile.Reconciler,
	poller *reconcile.Poller,
	engine *intsync.Engine,
	logger *zap.Logger,
) {
	// Replay tracked subscriptions after every successful (re)connect;
	// connection bookkeeping in the registry is cleared on teardown.
	manager.OnConnect(registry.ReplayAll)
	manager.OnDisconnect(registry.Clear)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())
			rec.Start(context.Background())
			registry.Start(context.Background())
			poller.Start(context.Background())

			if core.CanConnect() {
				go func() {
					if _, err := core.RequestConnect(context.Background()); err != nil {
						logger.Warn("auto-connect failed", zap.Error(err))
					}
				}()
			} else {
				logger.Info("no credential or breaker open, waiting for manual connect")
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			poller.Stop()
			registry.Stop()
			rec.Stop()
			engine.Stop()
			manager.Disconnect()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
