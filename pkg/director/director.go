// Package director owns the authoritative in-memory service table: it
// lazily creates records, executes lifecycle transitions against the
// container driver, runs the periodic reconciler, and fans application
// status probes out over the RPC boundary.
package director

import (
	"context"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/haronband/director/pkg/catalog"
	"github.com/haronband/director/pkg/config"
	"github.com/haronband/director/pkg/configstore"
	"github.com/haronband/director/pkg/engine"
	"github.com/haronband/director/pkg/eventpump"
	"github.com/haronband/director/pkg/placer"
	"github.com/haronband/director/pkg/portpool"
	"github.com/haronband/director/pkg/scheduler"
	"github.com/haronband/director/pkg/service"
	"github.com/imdario/mergo"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// StartedSetKey is the config-store set of service names that should be
// auto-started at boot and restarted across director restarts.
const StartedSetKey = "started"

// SharedConfigKey is the config-store document key carrying the
// shared-env layer merged beneath every service's own env.
const SharedConfigKey = "shared"

// GetParams narrows a Get call: an explicitly requested grid position, a
// per-call environment override, and build options for a subsequent run.
type GetParams struct {
	Pos          *placer.Pos
	Env          map[string]string
	BuildOptions map[string]interface{}
}

// Director is the state manager: component G.
type Director struct {
	log      *logrus.Entry
	cfg      *config.UserConfig
	catalog  *catalog.Catalog
	store    *configstore.Store
	pool     *portpool.Pool
	engine   *engine.Driver
	pump     *eventpump.Pump
	sched    *scheduler.Scheduler
	rpc      RPCClient

	tableMu deadlock.Mutex
	table   map[string]*service.Record

	nameLocksMu deadlock.Mutex
	nameLocks   map[string]*deadlock.Mutex

	hashMu            deadlock.Mutex
	registrationsHash uint64

	sharedMu  deadlock.Mutex
	sharedEnv map[string]string
}

// New builds a Director. Call Boot to run the boot sequence and start
// its background workers.
func New(log *logrus.Entry, cfg *config.UserConfig, cat *catalog.Catalog, store *configstore.Store, pool *portpool.Pool, drv *engine.Driver, pump *eventpump.Pump, sched *scheduler.Scheduler, rpc RPCClient) *Director {
	return &Director{
		log:       log,
		cfg:       cfg,
		catalog:   cat,
		store:     store,
		pool:      pool,
		engine:    drv,
		pump:      pump,
		sched:     sched,
		rpc:       rpc,
		table:     map[string]*service.Record{},
		nameLocks: map[string]*deadlock.Mutex{},
		sharedEnv: map[string]string{},
	}
}

func (d *Director) nameLock(name string) *deadlock.Mutex {
	d.nameLocksMu.Lock()
	defer d.nameLocksMu.Unlock()
	lock, ok := d.nameLocks[name]
	if !ok {
		lock = &deadlock.Mutex{}
		d.nameLocks[name] = lock
	}
	return lock
}

// Get returns the named service record, lazily creating it from catalog
// metadata and stored config on first access, merging env layers (meta,
// stored config, per-call) in that precedence, and updating the grid
// position if one was requested or defaulted.
func (d *Director) Get(ctx context.Context, name string, params GetParams) (*service.Record, error) {
	record, created, err := d.getOrCreate(ctx, name, params)
	if err != nil {
		return nil, err
	}

	envLayers := []map[string]string{}
	if meta := d.catalog.Get(name); meta != nil {
		envLayers = append(envLayers, meta.Env)
	}
	storedConfig, err := d.store.LoadConfig(ctx, name)
	if err != nil {
		d.log.WithError(err).WithField("service", name).Warn("config store unavailable while loading service config")
	}
	if storedEnv, ok := envFromDoc(storedConfig); ok {
		envLayers = append(envLayers, storedEnv)
	}
	if params.Env != nil {
		envLayers = append(envLayers, params.Env)
	}
	if len(envLayers) > 0 {
		record.SetEnv(mergeEnvLayers(envLayers))
	}

	if params.BuildOptions != nil {
		record.SetBuildOptions(params.BuildOptions)
	}

	if params.Pos != nil {
		d.placeRecord(name, record, *params.Pos)
	} else if created {
		d.placeRecord(name, record, d.defaultPos(name, storedConfig))
	}

	return record, nil
}

func (d *Director) getOrCreate(ctx context.Context, name string, params GetParams) (*service.Record, bool, error) {
	d.tableMu.Lock()
	defer d.tableMu.Unlock()

	if record, ok := d.table[name]; ok {
		return record, false, nil
	}

	record := service.New(name)
	if meta := d.catalog.Get(name); meta != nil {
		record.SetMeta(*meta)
	}
	d.table[name] = record
	return record, true, nil
}

func (d *Director) defaultPos(name string, storedConfig map[string]interface{}) placer.Pos {
	if pos, ok := posFromDoc(storedConfig); ok {
		return pos
	}
	if meta := d.catalog.Get(name); meta != nil && meta.Pos != nil {
		return placer.Pos{Col: meta.Pos.Col, Row: meta.Pos.Row}
	}
	return placer.Pos{}
}

func (d *Director) placeRecord(name string, record *service.Record, wanted placer.Pos) {
	d.tableMu.Lock()
	occupied := map[placer.Pos]bool{}
	for otherName, other := range d.table {
		if otherName == name || !other.PosSet() {
			continue
		}
		occupied[other.Pos()] = true
	}
	grid := placer.Grid{Cols: d.cfg.Grid.Cols, Rows: d.cfg.Grid.Rows}
	d.tableMu.Unlock()

	if pos, ok := placer.Allocate(grid, wanted, occupied); ok {
		record.SetPos(pos)
	}
}

func envFromDoc(doc map[string]interface{}) (map[string]string, bool) {
	if doc == nil {
		return nil, false
	}
	raw, ok := doc["env"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	env := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			env[k] = s
		}
	}
	return env, true
}

func posFromDoc(doc map[string]interface{}) (placer.Pos, bool) {
	if doc == nil {
		return placer.Pos{}, false
	}
	raw, ok := doc["pos"].(map[string]interface{})
	if !ok {
		return placer.Pos{}, false
	}
	col, colOk := raw["col"].(float64)
	row, rowOk := raw["row"].(float64)
	if !colOk || !rowOk {
		return placer.Pos{}, false
	}
	return placer.Pos{Col: int(col), Row: int(row)}, true
}

// mergeEnvLayers merges env maps in precedence order, later wins.
func mergeEnvLayers(layers []map[string]string) map[string]string {
	out := map[string]string{}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if err := mergo.Merge(&out, layer, mergo.WithOverride); err != nil {
			for k, v := range layer {
				out[k] = v
			}
		}
	}
	return out
}

// registrations returns the {register: [method...]} table derived from
// currently active records, and a stable hash over it.
func (d *Director) registrations() ([]string, uint64) {
	d.tableMu.Lock()
	records := make([]*service.Record, 0, len(d.table))
	for _, r := range d.table {
		records = append(records, r)
	}
	d.tableMu.Unlock()

	var methods []string
	for _, r := range records {
		if r.IsActive(d.cfg.ServiceTimeout) {
			methods = append(methods, r.Methods()...)
		}
	}
	sort.Strings(methods)

	hasher := xxhash.New()
	for _, m := range methods {
		fmt.Fprintln(hasher, m)
	}
	return methods, hasher.Sum64()
}

// Unload closes the engine connection and shuts the config store down
// cleanly, after cancelling and waiting for every spawned worker.
func (d *Director) Unload() {
	d.sched.Shutdown()
	if err := d.engine.Close(); err != nil {
		d.log.WithError(err).Warn("error closing engine client")
	}
	if err := d.store.Close(); err != nil {
		d.log.WithError(err).Warn("error closing config store")
	}
}
