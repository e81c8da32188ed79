// Package service defines the per-service record kept by the state
// manager: identity, merged env, dashboard position, last-observed engine
// and application state, and the status-override state machine layered
// on top of them.
package service

import (
	"time"

	"github.com/haronband/director/pkg/catalog"
	"github.com/haronband/director/pkg/placer"
	"github.com/sasha-s/go-deadlock"
)

// Override is a status override set while a lifecycle operation is
// in flight. It takes precedence over the last-observed engine status
// until cleared by the terminal observation.
type Override string

const (
	OverrideNone       Override = ""
	OverrideStarting   Override = "STARTING"
	OverrideStopping   Override = "STOPPING"
	OverrideRestarting Override = "RESTARTING"
	OverrideRemoving   Override = "REMOVING"
)

// DockState is the last observed engine-side state of a service's
// container.
type DockState struct {
	Status  string
	ID      string
	Ports   map[int]int
	Labels  map[string]string
	Created time.Time
}

// AppState is the last observed application-level status, reported by
// the service's own status RPC.
type AppState struct {
	Raw        map[string]interface{}
	Methods    []string
	ObservedAt time.Time
}

// Record is one service's complete in-memory state. All access goes
// through its methods, which serialize reads against concurrent
// reconciler and lifecycle writes.
type Record struct {
	mu deadlock.Mutex

	name           string
	meta           catalog.Meta
	env            map[string]string
	buildOptions   map[string]interface{}
	pos            placer.Pos
	posSet         bool
	dockState      DockState
	appState       AppState
	statusOverride Override
}

// New creates an empty record for name. Lazily created on first get(),
// per the manager's record lifecycle.
func New(name string) *Record {
	return &Record{name: name, env: map[string]string{}, buildOptions: map[string]interface{}{}}
}

// Name returns the service's identity.
func (r *Record) Name() string {
	return r.name
}

// SetMeta installs the catalog metadata backing this record.
func (r *Record) SetMeta(meta catalog.Meta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta = meta
}

// Meta returns the catalog metadata currently backing this record.
func (r *Record) Meta() catalog.Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

// Native reports whether this service participates in the in-band RPC
// protocol, per its catalog metadata. A record with no catalog entry is
// never native.
func (r *Record) Native() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta.Native
}

// SetEnv replaces the record's merged environment.
func (r *Record) SetEnv(env map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env = env
}

// Env returns a copy of the record's merged environment.
func (r *Record) Env() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.env))
	for k, v := range r.env {
		out[k] = v
	}
	return out
}

// SetBuildOptions replaces the record's build options.
func (r *Record) SetBuildOptions(opts map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buildOptions = opts
}

// BuildOptions returns the record's build options.
func (r *Record) BuildOptions() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildOptions
}

// SetPos installs the record's dashboard grid position.
func (r *Record) SetPos(pos placer.Pos) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = pos
	r.posSet = true
}

// Pos returns the record's dashboard grid position.
func (r *Record) Pos() placer.Pos {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// PosSet reports whether a grid position has ever been assigned to this
// record, distinguishing "placed at (0,0)" from "never placed".
func (r *Record) PosSet() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.posSet
}

// SetDockState records the latest engine-observed state. It never clears
// a status override: the reconciler sets dockstate but an in-flight
// lifecycle operation is the only thing that clears its own override.
func (r *Record) SetDockState(ds DockState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dockState = ds
}

// ClearDockState resets the engine-observed and application-observed
// state to empty, used when a container is removed. appState is reset
// alongside dockState so a stale appstate from a prior run can't make
// is_active read true for a container that no longer exists.
func (r *Record) ClearDockState() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dockState = DockState{}
	r.appState = AppState{}
}

// DockState returns the last observed engine state.
func (r *Record) DockState() DockState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dockState
}

// SetAppState records the latest application-level status and the
// methods it declares.
func (r *Record) SetAppState(as AppState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appState = as
}

// AppState returns the last observed application state.
func (r *Record) AppState() AppState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appState
}

// Methods returns the RPC methods the service last reported as
// registered.
func (r *Record) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appState.Methods
}

// SetStatusOverride sets an override at the start of a lifecycle
// operation.
func (r *Record) SetStatusOverride(o Override) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusOverride = o
}

// StatusOverride returns the record's current override, if any.
func (r *Record) StatusOverride() Override {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusOverride
}

// CleanStatus clears the status override on terminal engine observation,
// letting the last observed dockstate become authoritative again.
func (r *Record) CleanStatus() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusOverride = OverrideNone
}

// EffectiveStatus is the status override if one is set, else the last
// observed engine status.
func (r *Record) EffectiveStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusOverride != OverrideNone {
		return string(r.statusOverride)
	}
	return r.dockState.Status
}

// IsActive reports whether the service is running, recently reported an
// application status within staleAfter, and has no in-flight override
// blocking it.
func (r *Record) IsActive(staleAfter time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.statusOverride != OverrideNone {
		return false
	}
	if r.dockState.Status != "running" {
		return false
	}
	if r.appState.ObservedAt.IsZero() {
		return false
	}
	return time.Since(r.appState.ObservedAt) <= staleAfter
}
