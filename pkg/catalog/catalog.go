// Package catalog enumerates the image descriptors the director can build
// and run. It owns no container state; it is purely the "what services
// exist and how are they described" lookup that the state manager
// consults when lazily creating a service record.
package catalog

import (
	"io/ioutil"
	"path/filepath"
	"sync/atomic"

	"github.com/haronband/director/pkg/config"
	yaml "github.com/jesseduffield/yaml"
	"github.com/sirupsen/logrus"
)

// Meta is the read-only image descriptor a service record is seeded from.
type Meta struct {
	Name string

	// Path is the build context directory this service is built from.
	Path string

	// Ports are the container-internal ports this service exposes. The
	// state manager allocates one host port per entry here.
	Ports []int

	// Env is the image's default environment. In a service's merged run
	// environment it sits above the container-params and shared config env
	// and below stored per-service and per-call env.
	Env map[string]string

	// Pos is the default dashboard position, used only if neither stored
	// config nor the caller requests one.
	Pos *config.GridPos

	// Native is true if this service participates in the in-band status
	// RPC protocol and should carry the management label.
	Native bool
}

// Catalog holds the current snapshot of known image descriptors. Load
// replaces the snapshot atomically so concurrent readers never observe a
// partially-updated map; they see either the pre- or post-refresh view.
type Catalog struct {
	log       *logrus.Entry
	images    []config.ImageDescriptor
	imagesDir string

	snapshot atomic.Value // map[string]*Meta
}

// New builds a Catalog seeded from the static config.Images list; call
// Load to pull in ImagesDir entries and pick up on-disk changes.
func New(log *logrus.Entry, userConfig *config.UserConfig) *Catalog {
	c := &Catalog{
		log:       log,
		images:    userConfig.Images,
		imagesDir: userConfig.ImagesDir,
	}
	c.snapshot.Store(map[string]*Meta{})
	return c
}

// Load (re)scans the descriptor source. It is idempotent and safe to call
// repeatedly on a fixed interval: a run that encounters no descriptors
// simply republishes whatever static images were configured.
func (c *Catalog) Load() error {
	next := make(map[string]*Meta, len(c.images))

	for _, img := range c.images {
		next[img.Name] = metaFromDescriptor(img)
	}

	if c.imagesDir != "" {
		descriptors, err := scanImagesDir(c.imagesDir)
		if err != nil {
			c.log.WithError(err).Warn("failed to scan images directory")
		} else {
			for _, img := range descriptors {
				next[img.Name] = metaFromDescriptor(img)
			}
		}
	}

	c.snapshot.Store(next)
	return nil
}

func scanImagesDir(dir string) ([]config.ImageDescriptor, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	descriptors := make([]config.ImageDescriptor, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		content, err := ioutil.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		var descriptor config.ImageDescriptor
		if err := yaml.Unmarshal(content, &descriptor); err != nil {
			return nil, err
		}
		if descriptor.Name == "" {
			descriptor.Name = trimExt(entry.Name())
		}
		descriptors = append(descriptors, descriptor)
	}

	return descriptors, nil
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

func metaFromDescriptor(img config.ImageDescriptor) *Meta {
	env := make(map[string]string, len(img.Env))
	for k, v := range img.Env {
		env[k] = v
	}
	return &Meta{
		Name:   img.Name,
		Path:   img.Path,
		Ports:  append([]int(nil), img.Ports...),
		Env:    env,
		Pos:    img.Pos,
		Native: img.Native,
	}
}

func (c *Catalog) current() map[string]*Meta {
	return c.snapshot.Load().(map[string]*Meta)
}

// Get returns the descriptor for name, or nil if unknown.
func (c *Catalog) Get(name string) *Meta {
	return c.current()[name]
}

// IsNative reports whether name is a known, RPC-speaking service.
func (c *Catalog) IsNative(name string) bool {
	meta := c.current()[name]
	return meta != nil && meta.Native
}

// Iterator returns a snapshot slice of all known descriptors.
func (c *Catalog) Iterator() []*Meta {
	snap := c.current()
	out := make([]*Meta, 0, len(snap))
	for _, meta := range snap {
		out = append(out, meta)
	}
	return out
}
