// Package app wires the director's components together: catalog, config
// store, port pool, container engine, event pump, scheduler, and the
// state manager that ties them into the running fleet director.
package app

import (
	"context"
	"io"

	"github.com/haronband/director/pkg/catalog"
	"github.com/haronband/director/pkg/config"
	"github.com/haronband/director/pkg/configstore"
	"github.com/haronband/director/pkg/director"
	"github.com/haronband/director/pkg/engine"
	"github.com/haronband/director/pkg/eventpump"
	"github.com/haronband/director/pkg/log"
	"github.com/haronband/director/pkg/portpool"
	"github.com/haronband/director/pkg/rpcclient"
	"github.com/haronband/director/pkg/scheduler"
	"github.com/haronband/director/pkg/utils"
	"github.com/sirupsen/logrus"
)

// App holds every long-lived component the director needs and owns their
// shutdown order.
type App struct {
	closers []io.Closer

	Config   *config.Config
	Log      *logrus.Entry
	Catalog  *catalog.Catalog
	Store    *configstore.Store
	Pool     *portpool.Pool
	Engine   *engine.Driver
	Pump     *eventpump.Pump
	Director *director.Director
}

// NewApp bootstraps every component but does not start the director's
// background workers; call Run for that.
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg}
	app.Log = log.NewLogger(cfg)

	app.Catalog = catalog.New(app.Log, cfg.UserConfig)
	app.Store = configstore.New(app.Log, cfg.UserConfig.Redis)
	app.Pool = portpool.New(cfg.UserConfig.Ports.Start, cfg.UserConfig.Ports.End)

	drv, err := engine.New(app.Log)
	if err != nil {
		return nil, err
	}
	app.Engine = drv

	app.Pump = eventpump.New(app.Log, drv)
	sched := scheduler.New(context.Background(), app.Log)

	rpc := rpcclient.New(rpcclient.NameResolver(cfg.UserConfig.RPCPort), nil)

	app.Director = director.New(app.Log, cfg.UserConfig, app.Catalog, app.Store, app.Pool, drv, app.Pump, sched, rpc)

	return app, nil
}

// Run executes the one-time boot sequence, starting the reconciler,
// autostart, image-refresh, and event-pump workers in the background.
func (app *App) Run(ctx context.Context) error {
	return app.Director.Boot(ctx)
}

// Close shuts the director and every closer registered against it down.
func (app *App) Close() error {
	app.Director.Unload()
	return utils.CloseMany(app.closers)
}
