package director

import (
	"context"
	"errors"
	"time"

	"github.com/haronband/director/pkg/configstore"
	"github.com/haronband/director/pkg/engine"
)

// Boot runs the one-time boot sequence: load the catalog and shared
// config, reconcile dockstate for every container, seed the started set
// if empty, probe every already-running native service, and spawn the
// reconciler, image-refresh, and autostart workers.
func (d *Director) Boot(ctx context.Context) error {
	if err := d.catalog.Load(); err != nil {
		return err
	}

	if err := d.loadSharedConfig(ctx); err != nil {
		d.log.WithError(err).Warn("failed to load shared config at boot")
	}

	if err := d.resolveDockstateAll(ctx); err != nil {
		d.log.WithError(err).Warn("failed to resolve dockstate at boot")
	}

	started, err := d.store.SetExists(ctx, StartedSetKey)
	if err != nil && !errors.Is(err, configstore.ErrUnavailable) {
		return err
	}
	if !started {
		if err := d.store.SetAdd(ctx, StartedSetKey, d.cfg.InitialStartup...); err != nil && !errors.Is(err, configstore.ErrUnavailable) {
			return err
		}
	}

	inband := true
	running, err := d.engine.List(ctx, engine.ListFilter{Inband: &inband, Status: "running"})
	if err != nil {
		d.log.WithError(err).Warn("failed to list running containers at boot")
	}
	for _, c := range running {
		name := c.Name
		if !d.catalog.IsNative(name) {
			continue
		}
		d.sched.Spawn("probe:"+name, func(ctx context.Context) error {
			return d.RequestAppState(ctx, name)
		})
	}

	d.sched.Spawn("event-pump", d.pump.Run)
	d.sched.Spawn("reconciler", d.reconcileLoop)
	d.sched.Spawn("image-refresh", d.imageRefreshLoop)
	d.sched.Spawn("autostart", d.autostart)

	return nil
}

func (d *Director) loadSharedConfig(ctx context.Context) error {
	doc, err := d.store.LoadConfig(ctx, SharedConfigKey)
	if err != nil {
		return err
	}
	env, _ := envFromDoc(doc)
	d.sharedMu.Lock()
	d.sharedEnv = env
	d.sharedMu.Unlock()
	return nil
}

// autostart runs run_service for every started-set name that isn't
// already active and is native, once at boot.
func (d *Director) autostart(ctx context.Context) error {
	names, err := d.store.SetGet(ctx, StartedSetKey)
	if err != nil {
		if errors.Is(err, configstore.ErrUnavailable) {
			return nil
		}
		return err
	}

	d.log.WithField("services", names).Info("autostarting services")
	for _, name := range names {
		name := name
		record, err := d.Get(ctx, name, GetParams{})
		if err != nil {
			d.log.WithError(err).WithField("service", name).Warn("autostart: failed to load record")
			continue
		}
		if record.IsActive(d.cfg.ServiceTimeout) || !record.Native() {
			continue
		}
		if _, err := d.RunService(ctx, name, true); err != nil {
			d.log.WithError(err).WithField("service", name).Warn("autostart: run failed")
		}
	}
	return nil
}

// imageRefreshLoop rescans the image catalog on a fixed interval.
func (d *Director) imageRefreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.ImageRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.catalog.Load(); err != nil {
				d.log.WithError(err).Warn("image catalog refresh failed")
			}
		}
	}
}
