// Package engine is a thin semantic wrapper over the container engine's
// HTTP API: list, get, build, run, stop, start, restart, remove, and
// wait-for-condition. It does not know about services, the dashboard, or
// config persistence — just containers and images.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/boz/go-throttle"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"
)

// InbandLabel marks every container the director manages, so List can
// cheaply distinguish "ours" from incidental containers sharing the
// engine.
const InbandLabel = "director.inband"

// APIVersion names the engine API baseline this driver targets. New does
// not pin it: the client negotiates the version with the daemon.
const APIVersion = "1.37"

// Summary is the engine-observed state of one container: the bits the
// state manager folds into a service record's dockstate.
type Summary struct {
	ID      string
	Name    string
	Image   string
	Status  string // e.g. "running", "exited", "created"
	Ports   map[int]int
	Labels  map[string]string
	Created time.Time
}

// RunConfig carries everything Run needs beyond the service name: which
// image to start, published ports (container->host), merged environment,
// labels, and whether the engine should auto-remove the container on
// exit.
type RunConfig struct {
	Image       string
	Env         map[string]string
	Ports       map[int]int
	Labels      map[string]string
	AutoRemove  bool
	NetworkMode string
}

// BuildOptions are the handful of build-time flags we pass through.
type BuildOptions struct {
	Nocache   bool
	BuildArgs map[string]string
}

// ListFilter narrows List's result set.
type ListFilter struct {
	Inband *bool
	Status string
}

// Driver is the container engine client.
type Driver struct {
	log    *logrus.Entry
	Client *client.Client
}

// New builds a Driver from the environment (DOCKER_HOST, etc), negotiating
// the API version so a too-old or too-new local daemon doesn't hard-fail
// the connection.
func New(log *logrus.Entry) (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Driver{log: log, Client: cli}, nil
}

// Close shuts down the underlying HTTP client.
func (d *Driver) Close() error {
	return d.Client.Close()
}

func wrapDockerErr(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return newEngineError(404, err.Error())
	}
	return newEngineError(0, err.Error())
}

// List returns containers matching filter. Passing Inband=true restricts
// to containers carrying InbandLabel.
func (d *Driver) List(ctx context.Context, filter ListFilter) ([]Summary, error) {
	args := filters.NewArgs()
	if filter.Inband != nil && *filter.Inband {
		args.Add("label", InbandLabel)
	}
	if filter.Status != "" {
		args.Add("status", filter.Status)
	}

	containers, err := d.Client.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: args})
	if err != nil {
		return nil, wrapDockerErr(err)
	}

	summaries := make([]Summary, len(containers))
	for i, c := range containers {
		summaries[i] = summaryFromEngine(c)
	}
	return summaries, nil
}

func summaryFromEngine(c types.Container) Summary {
	name := strings.TrimPrefix(firstOrEmpty(c.Names), "/")
	ports := map[int]int{}
	for _, p := range c.Ports {
		if p.PublicPort != 0 {
			ports[int(p.PrivatePort)] = int(p.PublicPort)
		}
	}
	return Summary{
		ID:      c.ID,
		Name:    name,
		Image:   c.Image,
		Status:  c.State,
		Ports:   ports,
		Labels:  c.Labels,
		Created: time.Unix(c.Created, 0),
	}
}

func firstOrEmpty(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Get returns the named container, or nil if it doesn't exist. A missing
// container is not an error.
func (d *Driver) Get(ctx context.Context, name string) (*Summary, error) {
	inspect, err := d.Client.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, wrapDockerErr(err)
	}

	ports := map[int]int{}
	if inspect.NetworkSettings != nil {
		for containerPort, bindings := range inspect.NetworkSettings.Ports {
			if len(bindings) == 0 {
				continue
			}
			var hostPort int
			fmt.Sscanf(bindings[0].HostPort, "%d", &hostPort)
			ports[containerPort.Int()] = hostPort
		}
	}

	return &Summary{
		ID:      inspect.ID,
		Name:    strings.TrimPrefix(inspect.Name, "/"),
		Image:   inspect.Config.Image,
		Status:  inspect.State.Status,
		Ports:   ports,
		Labels:  inspect.Config.Labels,
		Created: mustParseTime(inspect.Created),
	}, nil
}

func mustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Build builds buildContextDir into an image tagged imageTag, logging a
// throttled progress summary at most once per second, and returns the
// final image ID reported in the build stream's aux chunk.
func (d *Driver) Build(ctx context.Context, imageTag, buildContextDir string, opts BuildOptions) (string, error) {
	buildCtx, err := archive.TarWithOptions(buildContextDir, &archive.TarOptions{})
	if err != nil {
		return "", err
	}
	defer buildCtx.Close()

	response, err := d.Client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:      []string{imageTag},
		NoCache:   opts.Nocache,
		BuildArgs: stringPtrMap(opts.BuildArgs),
		Remove:    true,
	})
	if err != nil {
		return "", wrapDockerErr(err)
	}
	defer response.Body.Close()

	return d.readBuildStream(response.Body)
}

func stringPtrMap(m map[string]string) map[string]*string {
	out := make(map[string]*string, len(m))
	for k, v := range m {
		v := v
		out[k] = &v
	}
	return out
}

func (d *Driver) readBuildStream(body io.Reader) (string, error) {
	var imageID string

	progress := map[string]jsonmessage.JSONMessage{}
	logThrottle := throttle.New(time.Second)
	defer logThrottle.Stop()

	decoder := json.NewDecoder(body)
	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}

		switch {
		case msg.Aux != nil:
			var result struct {
				ID string `json:"ID"`
			}
			if err := json.Unmarshal(*msg.Aux, &result); err == nil && result.ID != "" {
				imageID = result.ID
			}
		case msg.Status != "" && msg.ID != "":
			progress[msg.ID] = msg
			logThrottle.Trigger()
		case msg.Error != "":
			return "", newEngineError(0, msg.Error)
		}

		select {
		case <-logThrottle.C:
			d.log.WithField("progress", len(progress)).Info("docker build progress")
		default:
		}
	}

	return imageID, nil
}

// Run starts a new container named name from cfg. The caller is
// responsible for port reservation bookkeeping around this call; Run
// itself creates and starts the container, then returns its inspected
// summary.
func (d *Driver) Run(ctx context.Context, name string, cfg RunConfig) (*Summary, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	labels := map[string]string{InbandLabel: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}

	portBindings, exposedPorts := toPortBindings(cfg.Ports)

	containerConfig := &container.Config{
		Image:        cfg.Image,
		Env:          env,
		Labels:       labels,
		ExposedPorts: exposedPorts,
	}
	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		AutoRemove:   cfg.AutoRemove,
		NetworkMode:  container.NetworkMode(cfg.NetworkMode),
	}

	created, err := d.Client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, wrapDockerErr(err)
	}

	if err := d.Client.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return nil, wrapDockerErr(err)
	}

	return d.Get(ctx, name)
}

// Remove deletes the named container if it exists: stopping it first if
// running, then issuing the delete, then waiting for the removed
// condition. The delete is issued for auto-remove containers too; it is
// not skipped for them. A 404 from the stop, the delete or the wait, or a
// missing container to begin with, is success rather than an error.
func (d *Driver) Remove(ctx context.Context, name string) error {
	summary, err := d.Get(ctx, name)
	if err != nil {
		return err
	}
	if summary == nil {
		return nil
	}

	if summary.Status == "running" {
		if err := d.Client.ContainerStop(ctx, summary.ID, container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
			return wrapDockerErr(err)
		}
	}

	if err := d.Client.ContainerRemove(ctx, summary.ID, types.ContainerRemoveOptions{}); err != nil && !client.IsErrNotFound(err) {
		return wrapDockerErr(err)
	}

	waitCh, errCh := d.Client.ContainerWait(ctx, summary.ID, container.WaitConditionRemoved)
	select {
	case <-waitCh:
	case err := <-errCh:
		if err != nil && !client.IsErrNotFound(err) {
			return wrapDockerErr(err)
		}
	}

	return nil
}

// Stop stops the named container if it exists; it's a no-op returning
// false if it doesn't. Stopping an already-stopped container succeeds.
func (d *Driver) Stop(ctx context.Context, name string) (bool, error) {
	summary, err := d.Get(ctx, name)
	if err != nil || summary == nil {
		return false, err
	}
	if err := d.Client.ContainerStop(ctx, summary.ID, container.StopOptions{}); err != nil {
		return false, wrapDockerErr(err)
	}
	return true, nil
}

// Start starts the named container if it exists; a no-op returning false
// otherwise.
func (d *Driver) Start(ctx context.Context, name string) (bool, error) {
	summary, err := d.Get(ctx, name)
	if err != nil || summary == nil {
		return false, err
	}
	if err := d.Client.ContainerStart(ctx, summary.ID, types.ContainerStartOptions{}); err != nil {
		return false, wrapDockerErr(err)
	}
	return true, nil
}

// Restart restarts the named container if it exists; a no-op returning
// false otherwise.
func (d *Driver) Restart(ctx context.Context, name string) (bool, error) {
	summary, err := d.Get(ctx, name)
	if err != nil || summary == nil {
		return false, err
	}
	if err := d.Client.ContainerRestart(ctx, summary.ID, container.StopOptions{}); err != nil {
		return false, wrapDockerErr(err)
	}
	return true, nil
}

func toPortBindings(ports map[int]int) (nat.PortMap, nat.PortSet) {
	bindings := nat.PortMap{}
	exposed := nat.PortSet{}
	for containerPort, hostPort := range ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", hostPort)}}
		exposed[port] = struct{}{}
	}
	return bindings, exposed
}
