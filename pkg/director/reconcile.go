package director

import (
	"context"
	"errors"
	"time"

	"github.com/haronband/director/pkg/configstore"
	"github.com/haronband/director/pkg/engine"
	"github.com/haronband/director/pkg/service"
)

// reconcileLoop is the periodic reconciler: every ReconcileInterval
// (plus a fixed one-second tail), it refreshes every record's dockstate
// from engine ground truth and checks whether the fleet's registration
// table changed. Connection failures to the config store and
// cancellation are absorbed without tearing the worker down; any other
// error is logged and the loop continues at the next tick.
func (d *Director) reconcileLoop(ctx context.Context) error {
	interval := d.cfg.ReconcileInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}

		if err := d.resolveDockstateAll(ctx); err != nil {
			if errors.Is(err, configstore.ErrUnavailable) {
				d.log.Warn("config store unavailable during reconcile, retrying next tick")
			} else if ctx.Err() != nil {
				return nil
			} else {
				d.log.WithError(err).Error("reconcile: resolving dockstate failed")
			}
		}

		if err := d.checkRegsChanged(ctx); err != nil && ctx.Err() == nil {
			d.log.WithError(err).Error("reconcile: registration check failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// resolveDockstateAll walks every container the engine reports and
// updates the corresponding record's dockstate.
func (d *Director) resolveDockstateAll(ctx context.Context) error {
	inband := true
	containers, err := d.engine.List(ctx, engine.ListFilter{Inband: &inband})
	if err != nil {
		return err
	}

	for _, c := range containers {
		record, err := d.Get(ctx, c.Name, GetParams{})
		if err != nil {
			return err
		}
		record.SetDockState(service.DockState{
			Status:  c.Status,
			ID:      c.ID,
			Ports:   c.Ports,
			Labels:  c.Labels,
			Created: c.Created,
		})
	}
	return nil
}

// checkRegsChanged recomputes the registration hash and, if it changed,
// probes the frontier service exactly once with the updated table.
func (d *Director) checkRegsChanged(ctx context.Context) error {
	methods, newHash := d.registrations()

	d.hashMu.Lock()
	changed := newHash != d.registrationsHash
	if changed {
		d.registrationsHash = newHash
	}
	d.hashMu.Unlock()

	if !changed {
		return nil
	}

	d.log.WithField("methods", methods).Debug("registrations changed")
	return d.RequestAppState(ctx, d.cfg.FrontierService)
}

// RequestAppState issues a status probe to name. The frontier service
// additionally receives the current registration table and its stable
// hash in the payload.
func (d *Director) RequestAppState(ctx context.Context, name string) error {
	record, err := d.Get(ctx, name, GetParams{})
	if err != nil {
		return err
	}

	payload := map[string]interface{}{}
	if name == d.cfg.FrontierService {
		methods, hash := d.registrations()
		payload["register"] = methods
		payload["state_hash"] = hash
	}

	timeout := d.cfg.ServiceTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, err := d.rpc.Request(probeCtx, name, MethodRequestStatus, payload)
	if err != nil {
		if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
			d.log.WithField("service", name).Warn("status probe timed out, marking appstate stale")
			return nil
		}
		return err
	}

	record.SetAppState(service.AppState{
		Raw:        status,
		Methods:    methodsFromStatus(status),
		ObservedAt: time.Now(),
	})
	return nil
}

func methodsFromStatus(status map[string]interface{}) []string {
	raw, ok := status["register"].([]interface{})
	if !ok {
		return nil
	}
	methods := make([]string, 0, len(raw))
	for _, m := range raw {
		if s, ok := m.(string); ok {
			methods = append(methods, s)
		}
	}
	return methods
}
