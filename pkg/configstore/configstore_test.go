package configstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/haronband/director/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestStore(t *testing.T) *Store {
	mr := miniredis.RunT(t)
	return New(logrus.NewEntry(logrus.New()), config.RedisConfig{Addr: mr.Addr()})
}

func TestSaveLoadConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := map[string]interface{}{"env": map[string]interface{}{"FOO": "bar"}}
	assert.NoError(t, s.SaveConfig(ctx, "svc-a", doc))

	loaded, err := s.LoadConfig(ctx, "svc-a")
	assert.NoError(t, err)
	assert.Equal(t, doc, loaded)
}

func TestLoadConfigMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	loaded, err := s.LoadConfig(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSetAddGetRm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exists, err := s.SetExists(ctx, "started")
	assert.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, s.SetAdd(ctx, "started", "a", "b"))

	exists, err = s.SetExists(ctx, "started")
	assert.NoError(t, err)
	assert.True(t, exists)

	items, err := s.SetGet(ctx, "started")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, items)

	assert.NoError(t, s.SetRm(ctx, "started", "a"))
	items, err = s.SetGet(ctx, "started")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"b"}, items)
}

func TestConfigsList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.NoError(t, s.SaveConfig(ctx, "svc-a", map[string]interface{}{}))
	assert.NoError(t, s.SaveConfig(ctx, "svc-b", map[string]interface{}{}))

	names, err := s.ConfigsList(ctx)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"svc-a", "svc-b"}, names)
}
