package director

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/haronband/director/pkg/catalog"
	"github.com/haronband/director/pkg/config"
	"github.com/haronband/director/pkg/configstore"
	"github.com/haronband/director/pkg/engine"
	"github.com/haronband/director/pkg/eventpump"
	"github.com/haronband/director/pkg/portpool"
	"github.com/haronband/director/pkg/scheduler"
	"github.com/haronband/director/pkg/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type fakeRPC struct {
	calls []string
}

func (f *fakeRPC) Request(ctx context.Context, svcName, method string, payload map[string]interface{}) (map[string]interface{}, error) {
	f.calls = append(f.calls, svcName)
	return map[string]interface{}{}, nil
}

func testLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func newTestDirector(t *testing.T, cfg *config.UserConfig, rpc RPCClient) *Director {
	mr := miniredis.RunT(t)
	store := configstore.New(testLogger(), config.RedisConfig{Addr: mr.Addr()})
	cat := catalog.New(testLogger(), cfg)
	assert.NoError(t, cat.Load())

	drv, err := engine.New(testLogger())
	assert.NoError(t, err)

	pool := portpool.New(cfg.Ports.Start, cfg.Ports.End)
	pump := eventpump.New(testLogger(), drv)
	sched := scheduler.New(context.Background(), testLogger())

	return New(testLogger(), cfg, cat, store, pool, drv, pump, sched, rpc)
}

func baseConfig() *config.UserConfig {
	cfg := config.DefaultConfig()
	cfg.Images = []config.ImageDescriptor{
		{Name: "worker", Path: "/tmp/worker", Ports: []int{8080}, Env: map[string]string{"A": "from-meta", "B": "from-meta"}, Native: true},
	}
	return &cfg
}

func TestGetMergesEnvLayersWithPerCallOverrideWinning(t *testing.T) {
	cfg := baseConfig()
	d := newTestDirector(t, cfg, &fakeRPC{})

	record, err := d.Get(context.Background(), "worker", GetParams{Env: map[string]string{"B": "from-call"}})
	assert.NoError(t, err)

	env := record.Env()
	assert.Equal(t, "from-meta", env["A"])
	assert.Equal(t, "from-call", env["B"])
}

func TestGetAssignsDefaultPositionAndAvoidsCollision(t *testing.T) {
	cfg := baseConfig()
	cfg.Images = append(cfg.Images, config.ImageDescriptor{Name: "other", Native: true})
	d := newTestDirector(t, cfg, &fakeRPC{})
	ctx := context.Background()

	worker, err := d.Get(ctx, "worker", GetParams{})
	assert.NoError(t, err)
	assert.True(t, worker.PosSet())
	workerPos := worker.Pos()

	other, err := d.Get(ctx, "other", GetParams{Pos: &workerPos})
	assert.NoError(t, err)
	assert.True(t, other.PosSet())
	assert.NotEqual(t, workerPos, other.Pos(), "second record must not collide with the first")
}

func TestRegistrationsOnlyCountsActiveRecords(t *testing.T) {
	cfg := baseConfig()
	d := newTestDirector(t, cfg, &fakeRPC{})
	ctx := context.Background()

	record, err := d.Get(ctx, "worker", GetParams{})
	assert.NoError(t, err)

	methods, _ := d.registrations()
	assert.Empty(t, methods)

	record.SetDockState(service.DockState{Status: "running"})
	record.SetAppState(service.AppState{Methods: []string{"m1", "m2"}, ObservedAt: time.Now()})

	methods, _ = d.registrations()
	assert.ElementsMatch(t, []string{"m1", "m2"}, methods)
}

func TestCheckRegsChangedProbesFrontierOnceWhenHashChanges(t *testing.T) {
	cfg := baseConfig()
	cfg.FrontierService = "frontier"
	cfg.Images = append(cfg.Images, config.ImageDescriptor{Name: "frontier", Native: true})
	rpc := &fakeRPC{}
	d := newTestDirector(t, cfg, rpc)
	ctx := context.Background()

	record, err := d.Get(ctx, "worker", GetParams{})
	assert.NoError(t, err)
	record.SetDockState(service.DockState{Status: "running"})
	record.SetAppState(service.AppState{Methods: []string{"m1"}, ObservedAt: time.Now()})

	assert.NoError(t, d.checkRegsChanged(ctx))
	assert.Len(t, rpc.calls, 1)
	assert.Equal(t, "frontier", rpc.calls[0])

	// unchanged registration set: no further probe
	assert.NoError(t, d.checkRegsChanged(ctx))
	assert.Len(t, rpc.calls, 1)
}

func TestRequestAppStateTimesOutWithoutError(t *testing.T) {
	cfg := baseConfig()
	cfg.ServiceTimeout = time.Nanosecond
	d := newTestDirector(t, cfg, &slowRPC{})

	err := d.RequestAppState(context.Background(), "worker")
	assert.NoError(t, err)
}

type slowRPC struct{}

func (s *slowRPC) Request(ctx context.Context, svcName, method string, payload map[string]interface{}) (map[string]interface{}, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
