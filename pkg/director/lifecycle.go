package director

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haronband/director/pkg/configstore"
	"github.com/haronband/director/pkg/engine"
	"github.com/haronband/director/pkg/service"
)

// RunService builds the service's image, removes any stale container of
// the same name, allocates ports, and runs it, adding the name to the
// started set and persisting its config on success. Per-name lifecycle
// operations are serialized: a run in flight for name blocks a
// concurrent stop/start/restart/remove of the same name until it
// completes.
func (d *Director) RunService(ctx context.Context, name string, noWait bool) (*service.Record, error) {
	record, err := d.Get(ctx, name, GetParams{})
	if err != nil {
		return nil, err
	}

	record.CleanStatus()
	record.SetStatusOverride(service.OverrideStarting)

	op := func(ctx context.Context) error { return d.doRunService(ctx, name, record) }
	return record, d.runOp(ctx, name, noWait, op)
}

func (d *Director) doRunService(ctx context.Context, name string, record *service.Record) (err error) {
	defer func() {
		if err != nil {
			record.CleanStatus()
			d.resolveDockstate(ctx, name, record)
		}
	}()

	meta := d.catalog.Get(name)
	if meta == nil {
		// no catalog entry: lifecycle operations are driver no-ops
		record.CleanStatus()
		return nil
	}

	imageTag := name + ":latest"
	buildOpts := engine.BuildOptions{
		Nocache:   boolOption(record.BuildOptions(), "nocache"),
		BuildArgs: d.cfg.ImageParams,
	}
	if _, err := d.engine.Build(ctx, imageTag, meta.Path, buildOpts); err != nil {
		return fmt.Errorf("building %s: %w", name, err)
	}

	if err := d.engine.Remove(ctx, name); err != nil {
		return fmt.Errorf("removing stale container %s: %w", name, err)
	}

	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	usedPorts, err := d.usedHostPorts(ctx)
	if err != nil {
		return err
	}

	allocated, err := d.pool.Allocate(usedPorts, len(meta.Ports))
	if err != nil {
		return fmt.Errorf("allocating ports for %s: %w", name, err)
	}
	defer d.pool.Release(allocated)

	portMap := make(map[int]int, len(meta.Ports))
	for i, containerPort := range meta.Ports {
		if i < len(allocated) {
			portMap[containerPort] = allocated[i]
		}
	}

	env := d.mergedRunEnv(record)
	labels := map[string]string{}
	for k, v := range d.cfg.ContainerParams.Labels {
		labels[k] = v
	}

	_, err = d.engine.Run(ctx, name, engine.RunConfig{
		Image:       imageTag,
		Env:         env,
		Ports:       portMap,
		Labels:      labels,
		AutoRemove:  boolOption(record.BuildOptions(), "auto_remove"),
		NetworkMode: d.cfg.ContainerParams.NetworkMode,
	})
	if err != nil {
		return fmt.Errorf("running %s: %w", name, err)
	}

	if err := d.store.SetAdd(ctx, StartedSetKey, name); err != nil && !errors.Is(err, configstore.ErrUnavailable) {
		return err
	}
	if err := d.persistServiceConfig(ctx, name, record); err != nil && !errors.Is(err, configstore.ErrUnavailable) {
		return err
	}

	d.resolveDockstate(ctx, name, record)
	record.CleanStatus()
	return nil
}

// RemoveService removes the service's container, clears its status
// override and dockstate, and drops it from the started set.
func (d *Director) RemoveService(ctx context.Context, name string, noWait bool) (*service.Record, error) {
	record, err := d.Get(ctx, name, GetParams{})
	if err != nil {
		return nil, err
	}

	if err := d.store.SetRm(ctx, StartedSetKey, name); err != nil && !errors.Is(err, configstore.ErrUnavailable) {
		return nil, err
	}
	record.SetStatusOverride(service.OverrideRemoving)

	op := func(ctx context.Context) error {
		if d.catalog.Get(name) != nil {
			if err := d.engine.Remove(ctx, name); err != nil {
				record.CleanStatus()
				return err
			}
		}
		record.ClearDockState()
		record.CleanStatus()
		return nil
	}
	return record, d.runOp(ctx, name, noWait, op)
}

// StopService removes the service from the started set and stops its
// container.
func (d *Director) StopService(ctx context.Context, name string, noWait bool) (*service.Record, error) {
	record, err := d.Get(ctx, name, GetParams{})
	if err != nil {
		return nil, err
	}

	if err := d.store.SetRm(ctx, StartedSetKey, name); err != nil && !errors.Is(err, configstore.ErrUnavailable) {
		return nil, err
	}
	record.SetStatusOverride(service.OverrideStopping)

	op := func(ctx context.Context) error {
		if d.catalog.Get(name) != nil {
			if _, err := d.engine.Stop(ctx, name); err != nil {
				record.CleanStatus()
				return err
			}
		}
		record.CleanStatus()
		record.SetAppState(service.AppState{})
		d.resolveDockstate(ctx, name, record)
		return nil
	}
	return record, d.runOp(ctx, name, noWait, op)
}

// StartService adds native services to the started set and starts the
// container.
func (d *Director) StartService(ctx context.Context, name string, noWait bool) (*service.Record, error) {
	record, err := d.Get(ctx, name, GetParams{})
	if err != nil {
		return nil, err
	}

	if record.Native() {
		if err := d.store.SetAdd(ctx, StartedSetKey, name); err != nil && !errors.Is(err, configstore.ErrUnavailable) {
			return nil, err
		}
	}
	record.SetStatusOverride(service.OverrideStarting)

	op := func(ctx context.Context) error {
		if d.catalog.Get(name) != nil {
			if _, err := d.engine.Start(ctx, name); err != nil {
				record.CleanStatus()
				return err
			}
		}
		record.CleanStatus()
		d.resolveDockstate(ctx, name, record)
		return nil
	}
	return record, d.runOp(ctx, name, noWait, op)
}

// RestartService restarts the service's container if it currently
// exists, then re-checks whether the fleet's registration table changed.
func (d *Director) RestartService(ctx context.Context, name string, noWait bool) (*service.Record, error) {
	record, err := d.Get(ctx, name, GetParams{})
	if err != nil {
		return nil, err
	}
	record.SetStatusOverride(service.OverrideRestarting)

	op := func(ctx context.Context) error {
		container, err := d.engine.Get(ctx, name)
		if err != nil {
			record.CleanStatus()
			return err
		}
		if container == nil {
			record.CleanStatus()
			return nil
		}

		if _, err := d.engine.Restart(ctx, name); err != nil {
			record.CleanStatus()
			return err
		}
		record.CleanStatus()
		d.resolveDockstate(ctx, name, record)
		return d.checkRegsChanged(ctx)
	}
	return record, d.runOp(ctx, name, noWait, op)
}

// runOp serializes op under name's lifecycle lock, running it inline or
// detached per noWait.
func (d *Director) runOp(ctx context.Context, name string, noWait bool, op func(ctx context.Context) error) error {
	run := func(ctx context.Context) error {
		lock := d.nameLock(name)
		lock.Lock()
		defer lock.Unlock()
		return op(ctx)
	}

	if noWait {
		d.sched.Spawn("lifecycle:"+name, run)
		return nil
	}
	return run(ctx)
}

func (d *Director) mergedRunEnv(record *service.Record) map[string]string {
	d.sharedMu.Lock()
	shared := d.sharedEnv
	d.sharedMu.Unlock()

	return mergeEnvLayers([]map[string]string{d.cfg.ContainerParams.Env, shared, record.Env()})
}

func (d *Director) persistServiceConfig(ctx context.Context, name string, record *service.Record) error {
	pos := record.Pos()
	doc := map[string]interface{}{
		"env":           record.Env(),
		"pos":           map[string]interface{}{"col": pos.Col, "row": pos.Row},
		"build_options": record.BuildOptions(),
	}
	return d.store.SaveConfig(ctx, name, doc)
}

func (d *Director) resolveDockstate(ctx context.Context, name string, record *service.Record) {
	container, err := d.engine.Get(ctx, name)
	if err != nil {
		d.log.WithError(err).WithField("service", name).Warn("failed to resolve container state")
		return
	}
	if container == nil {
		record.ClearDockState()
		return
	}
	record.SetDockState(service.DockState{
		Status:  container.Status,
		ID:      container.ID,
		Ports:   container.Ports,
		Labels:  container.Labels,
		Created: container.Created,
	})
}

func (d *Director) usedHostPorts(ctx context.Context) (map[int]bool, error) {
	inband := true
	containers, err := d.engine.List(ctx, engine.ListFilter{Inband: &inband})
	if err != nil {
		return nil, err
	}
	used := map[int]bool{}
	for _, c := range containers {
		for _, hostPort := range c.Ports {
			used[hostPort] = true
		}
	}
	return used, nil
}

func boolOption(opts map[string]interface{}, key string) bool {
	v, ok := opts[key].(bool)
	return ok && v
}
