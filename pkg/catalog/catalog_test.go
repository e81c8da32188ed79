package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haronband/director/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestGetUnknownReturnsNil(t *testing.T) {
	c := New(testLogger(), &config.UserConfig{})
	assert.Nil(t, c.Get("missing"))
	assert.False(t, c.IsNative("missing"))
}

func TestLoadStaticImages(t *testing.T) {
	c := New(testLogger(), &config.UserConfig{
		Images: []config.ImageDescriptor{
			{Name: "api", Ports: []int{8080}, Native: true, Env: map[string]string{"X": "1"}},
		},
	})
	assert.NoError(t, c.Load())

	meta := c.Get("api")
	assert.NotNil(t, meta)
	assert.Equal(t, []int{8080}, meta.Ports)
	assert.True(t, c.IsNative("api"))
	assert.Len(t, c.Iterator(), 1)
}

func TestLoadFromImagesDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "worker.yml"), []byte("name: worker\nnative: true\nports: [9000]\n"), 0o644))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.txt"), []byte("not yaml"), 0o644))

	c := New(testLogger(), &config.UserConfig{ImagesDir: dir})
	assert.NoError(t, c.Load())

	meta := c.Get("worker")
	assert.NotNil(t, meta)
	assert.Equal(t, []int{9000}, meta.Ports)
	assert.Len(t, c.Iterator(), 1)
}

func TestLoadIsAtomicAcrossConcurrentGet(t *testing.T) {
	c := New(testLogger(), &config.UserConfig{
		Images: []config.ImageDescriptor{{Name: "a"}},
	})
	assert.NoError(t, c.Load())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = c.Get("a")
		}
		close(done)
	}()

	for i := 0; i < 100; i++ {
		_ = c.Load()
	}
	<-done
}
