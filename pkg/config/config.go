// Package config handles the director's own configuration: the set of
// image descriptors it knows about, the parameters merged into every
// container it runs, and the port range it allocates from. The fields here
// are all in PascalCase but in your actual config.yml they'll be in
// camelCase. The --config flag prints the defaults; ConfigFilename()
// names the config.yml that is merged on top of them at load.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"github.com/OpenPeeDeeP/xdg"
	yaml "github.com/jesseduffield/yaml"
)

// ImageDescriptor declares one buildable/runnable service image: where its
// build context lives, which container-internal ports it exposes, what
// default environment it ships with, and whether it speaks the in-band
// status RPC.
type ImageDescriptor struct {
	// Name identifies the service. It is also the container and record name.
	Name string `yaml:"name"`

	// Path is the build context directory (containing the Dockerfile) this
	// image is built from.
	Path string `yaml:"path"`

	// Ports lists the container-internal ports this service listens on.
	// One host port is allocated per declared port, in order.
	Ports []int `yaml:"ports,omitempty"`

	// Env is merged into every run of this service above the
	// container-params env and the shared config env; stored per-service
	// env and per-call overrides both take precedence over this.
	Env map[string]string `yaml:"env,omitempty"`

	// Pos is the default dashboard grid position requested for this
	// service the first time it's loaded, if neither stored config nor the
	// caller specifies one.
	Pos *GridPos `yaml:"pos,omitempty"`

	// Native marks services that speak the internal status RPC and should
	// carry the management label. Non-native images are built, run,
	// stopped and removed like any other catalog entry, but they are not
	// autostarted, not added to the started set by a start, and not probed
	// at boot. Lifecycle operations are driver no-ops only for names absent
	// from the catalog.
	Native bool `yaml:"native,omitempty"`
}

// GridPos is a dashboard grid coordinate.
type GridPos struct {
	Col int `yaml:"col"`
	Row int `yaml:"row"`
}

// UserConfig holds all of the user-configurable options for a director
// instance. This is the document that config.yml holds and that gets
// merged with DefaultConfig() on load.
type UserConfig struct {
	// Images is the static list of image descriptors this director knows
	// about. In deployments backed by an on-disk descriptor source this is
	// typically empty and Catalog.Load reads from ImagesDir instead; both
	// sources are merged, with ImagesDir entries winning on name collision.
	Images []ImageDescriptor `yaml:"images,omitempty"`

	// ImagesDir is a directory scanned for additional *.yml image
	// descriptors, refreshed on a timer by the catalog. Resolving image
	// descriptors on disk is itself out of this module's scope beyond
	// reading whatever ImagesDir points to; see catalog.Load.
	ImagesDir string `yaml:"imagesDir,omitempty"`

	// ContainerParams are common parameters merged into every container
	// run: default environment, labels, and host networking options.
	ContainerParams ContainerParams `yaml:"containerParams,omitempty"`

	// ImageParams are common parameters merged into every image build,
	// e.g. build-arg defaults.
	ImageParams map[string]string `yaml:"imageParams,omitempty"`

	// Ports is the inclusive-exclusive host port range the allocator draws
	// from: [Start, End).
	Ports PortRange `yaml:"ports,omitempty"`

	// InitialStartup is the set of service names seeded into the
	// persisted started-set the first time the director boots against an
	// empty config store.
	InitialStartup []string `yaml:"initialStartup,omitempty"`

	// FrontierService names the distinguished service that mirrors the
	// fleet's registration table to UI clients.
	FrontierService string `yaml:"frontierService,omitempty"`

	// Redis configures the config store adapter's connection.
	Redis RedisConfig `yaml:"redis,omitempty"`

	// Grid sizes the dashboard placement grid.
	Grid GridSize `yaml:"grid,omitempty"`

	// ServiceTimeout bounds how long a status-RPC probe may take before
	// the service's appstate is considered stale.
	ServiceTimeout time.Duration `yaml:"serviceTimeout,omitempty"`

	// ReconcileInterval is the period of the reconciler's main tick.
	ReconcileInterval time.Duration `yaml:"reconcileInterval,omitempty"`

	// ImageRefreshInterval is how often the image catalog rescans its
	// descriptor source.
	ImageRefreshInterval time.Duration `yaml:"imageRefreshInterval,omitempty"`

	// RPCPort is the fixed port every native service's status-RPC
	// endpoint listens on, reached by container name over the container
	// network.
	RPCPort int `yaml:"rpcPort,omitempty"`
}

// ContainerParams are the parameters merged into every run.
type ContainerParams struct {
	// Env is merged beneath the shared config env and a service's own env.
	Env map[string]string `yaml:"env,omitempty"`

	// Labels are applied to every managed container in addition to the
	// fixed in-band management label.
	Labels map[string]string `yaml:"labels,omitempty"`

	// NetworkMode sets the container's network mode, e.g. "host" or
	// "bridge".
	NetworkMode string `yaml:"networkMode,omitempty"`
}

// PortRange is [Start, End) over host ports.
type PortRange struct {
	Start int `yaml:"start,omitempty"`
	End   int `yaml:"end,omitempty"`
}

// RedisConfig configures the config store adapter's Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// GridSize is the dashboard's cols x rows.
type GridSize struct {
	Cols int `yaml:"cols,omitempty"`
	Rows int `yaml:"rows,omitempty"`
}

// Config wraps a loaded UserConfig with process-level metadata.
type Config struct {
	Name      string
	Version   string
	Commit    string
	BuildDate string
	Debug     bool

	UserConfig *UserConfig
	ConfigDir  string
}

// DefaultConfig returns the built-in defaults that config.yml is merged
// on top of.
func DefaultConfig() UserConfig {
	return UserConfig{
		ContainerParams: ContainerParams{
			Env:    map[string]string{},
			Labels: map[string]string{},
		},
		Ports: PortRange{
			Start: 8900,
			End:   8999,
		},
		FrontierService:      "frontier",
		Grid:                 GridSize{Cols: 6, Rows: 6},
		ServiceTimeout:       30 * time.Second,
		ReconcileInterval:    5 * time.Second,
		ImageRefreshInterval: 15 * time.Second,
		RPCPort:              9000,
	}
}

// NewConfig bootstraps a Config: resolves the config directory, loads (or
// creates) config.yml, and merges it onto the defaults.
func NewConfig(name, version, commit, buildDate string, debug bool) (*Config, error) {
	configDir, err := findOrCreateConfigDir(name)
	if err != nil {
		return nil, err
	}

	userConfig, err := loadUserConfigWithDefaults(configDir)
	if err != nil {
		return nil, err
	}

	return &Config{
		Name:       name,
		Version:    version,
		Commit:     commit,
		BuildDate:  buildDate,
		Debug:      debug || os.Getenv("DEBUG") == "TRUE",
		UserConfig: userConfig,
		ConfigDir:  configDir,
	}, nil
}

func configDirForVendor(vendor string, projectName string) string {
	if envConfigDir := os.Getenv("CONFIG_DIR"); envConfigDir != "" {
		return envConfigDir
	}
	dirs := xdg.New(vendor, projectName)
	return dirs.ConfigHome()
}

func findOrCreateConfigDir(projectName string) (string, error) {
	folder := configDirForVendor("haronband", projectName)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", err
	}
	return folder, nil
}

func loadUserConfigWithDefaults(configDir string) (*UserConfig, error) {
	config := DefaultConfig()
	return loadUserConfig(configDir, &config)
}

func loadUserConfig(configDir string, base *UserConfig) (*UserConfig, error) {
	fileName := filepath.Join(configDir, "config.yml")

	if _, err := os.Stat(fileName); err != nil {
		if os.IsNotExist(err) {
			file, err := os.Create(fileName)
			if err != nil {
				return nil, err
			}
			file.Close()
		} else {
			return nil, err
		}
	}

	content, err := ioutil.ReadFile(fileName)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(content, base); err != nil {
		return nil, err
	}

	return base, nil
}

// ConfigFilename returns the filename of the current config file.
func (c *Config) ConfigFilename() string {
	return filepath.Join(c.ConfigDir, "config.yml")
}
