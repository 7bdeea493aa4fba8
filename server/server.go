// Package server assembles and runs the bindery application: the state and
// catalog databases, the device-facing HTTP API and the optional metrics
// listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/binderyhq/bindery/config"
	"github.com/binderyhq/bindery/metrics"
	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/catalogdb"
	"github.com/binderyhq/bindery/sql/statedb"
	"github.com/binderyhq/bindery/storeproxy"
	"github.com/binderyhq/bindery/syncer"
)

// App is one running bindery server instance.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	fileLock *flock.Flock
	state    *sql.Database
	catalog  *catalogdb.Handle
	library  *Library
	store    *storeproxy.Client
	syncer   *syncer.Syncer

	srv        *http.Server
	metricsSrv *metrics.Server
}

// New wires an App from its configuration. The data directory is created on
// demand and locked exclusively; a second server on the same directory fails
// here instead of corrupting the state database.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	fileLock := flock.New(cfg.LockPath())
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", cfg.LockPath(), err)
	}
	if !locked {
		return nil, fmt.Errorf("data dir %s is in use by another server", cfg.DataDir)
	}

	app := &App{cfg: cfg, logger: logger, fileLock: fileLock}
	if err := app.setup(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) setup() error {
	state, err := statedb.Open("file:" + app.cfg.StatePath())
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	app.state = state

	catalog, err := catalogdb.NewHandle(
		"file:"+app.cfg.CatalogPath(),
		app.cfg.CatalogReloadInterval,
		app.logger.Named("catalog"),
	)
	if err != nil {
		return fmt.Errorf("open catalog database: %w", err)
	}
	app.catalog = catalog

	app.library = NewLibrary(afero.NewBasePathFs(afero.NewOsFs(), app.cfg.LibraryDir))

	syncOpts := []syncer.Opt{
		syncer.WithLogger(app.logger.Named("sync")),
		syncer.WithConfig(app.cfg.Sync),
	}
	if app.cfg.Store.Enabled {
		storeCfg := app.cfg.Store
		storeCfg.DataDir = app.cfg.DataDir
		store, err := storeproxy.New(storeCfg, storeproxy.WithLogger(app.logger.Named("store")))
		if err != nil {
			return fmt.Errorf("create store client: %w", err)
		}
		app.store = store
		syncOpts = append(syncOpts, syncer.WithStoreClient(store))
	}
	app.syncer = syncer.New(app.catalog, app.state, syncOpts...)

	router := NewRouter(app.cfg, app.logger, &Handlers{
		cfg:     app.cfg,
		logger:  app.logger.Named("api"),
		state:   app.state,
		catalog: app.catalog,
		library: app.library,
		store:   app.store,
		syncer:  app.syncer,
		clock:   clockwork.NewRealClock(),
	})
	app.srv = &http.Server{
		Addr:              app.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if app.cfg.CollectMetrics {
		app.metricsSrv = metrics.NewServer(app.cfg.MetricsListen, app.logger.Named("metrics"))
	}
	return nil
}

// Run serves devices until ctx is canceled, then shuts both listeners down
// gracefully.
func (app *App) Run(ctx context.Context) error {
	var eg errgroup.Group
	eg.Go(func() error {
		app.logger.Info("server started",
			zap.String("listen", app.cfg.Server.Listen),
			zap.String("library", app.cfg.LibraryDir),
		)
		if err := app.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if app.metricsSrv != nil {
		eg.Go(app.metricsSrv.ListenAndServe)
	}
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if app.metricsSrv != nil {
			if err := app.metricsSrv.Shutdown(shutdownCtx); err != nil {
				app.logger.Warn("metrics shutdown", zap.Error(err))
			}
		}
		return app.srv.Shutdown(shutdownCtx)
	})
	err := eg.Wait()
	app.Close()
	return err
}

// Close releases everything New acquired. Safe to call more than once and on
// a partially constructed App.
func (app *App) Close() {
	if app.catalog != nil {
		if err := app.catalog.Close(); err != nil {
			app.logger.Warn("close catalog database", zap.Error(err))
		}
		app.catalog = nil
	}
	if app.state != nil {
		if err := app.state.Close(); err != nil {
			app.logger.Warn("close state database", zap.Error(err))
		}
		app.state = nil
	}
	if app.fileLock != nil {
		if err := app.fileLock.Unlock(); err != nil {
			app.logger.Warn("release data dir lock", zap.Error(err))
		}
		app.fileLock = nil
	}
}
