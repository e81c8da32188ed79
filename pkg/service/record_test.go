package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveStatusPrefersOverride(t *testing.T) {
	r := New("svc")
	r.SetDockState(DockState{Status: "running"})
	assert.Equal(t, "running", r.EffectiveStatus())

	r.SetStatusOverride(OverrideStopping)
	assert.Equal(t, "STOPPING", r.EffectiveStatus())

	r.CleanStatus()
	assert.Equal(t, "running", r.EffectiveStatus())
}

func TestSetDockStateDoesNotClearOverride(t *testing.T) {
	r := New("svc")
	r.SetStatusOverride(OverrideStarting)

	r.SetDockState(DockState{Status: "running"})
	assert.Equal(t, OverrideStarting, r.StatusOverride())
	assert.Equal(t, "STARTING", r.EffectiveStatus())
}

func TestIsActiveRequiresRunningRecentAppStateAndNoOverride(t *testing.T) {
	r := New("svc")
	assert.False(t, r.IsActive(30*time.Second))

	r.SetDockState(DockState{Status: "running"})
	assert.False(t, r.IsActive(30*time.Second), "no appstate yet")

	r.SetAppState(AppState{ObservedAt: time.Now()})
	assert.True(t, r.IsActive(30*time.Second))

	r.SetAppState(AppState{ObservedAt: time.Now().Add(-time.Minute)})
	assert.False(t, r.IsActive(30*time.Second), "appstate stale")

	r.SetAppState(AppState{ObservedAt: time.Now()})
	r.SetStatusOverride(OverrideRestarting)
	assert.False(t, r.IsActive(30*time.Second), "override blocks active")
}

func TestClearDockStateResetsState(t *testing.T) {
	r := New("svc")
	r.SetDockState(DockState{Status: "running", ID: "abc"})
	r.SetAppState(AppState{Methods: []string{"m1"}, ObservedAt: time.Now()})
	r.ClearDockState()
	assert.Equal(t, DockState{}, r.DockState())
	assert.Equal(t, AppState{}, r.AppState())
}
