// Package eventpump subscribes to container-engine events, keeps one log
// follower alive per running container, and fans both out onto broadcast
// channels with a drop-oldest policy for slow subscribers.
package eventpump

import (
	"context"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/haronband/director/pkg/engine"
	"github.com/sirupsen/logrus"
)

// queueDepth bounds each subscriber's backlog before the oldest record is
// dropped to make room for the newest.
const queueDepth = 256

// LogRecord is one decoded frame of container output, timestamped on
// arrival.
type LogRecord struct {
	TimestampMs   int64
	ContainerID   string
	ContainerName string
	Stream        int
	Length        int
	Payload       string
}

// Pump owns the broadcast subscriber sets and the running followers.
type Pump struct {
	log    *logrus.Entry
	engine *engine.Driver

	logSubs   *broadcaster[LogRecord]
	eventSubs *broadcaster[events.Message]
}

// New builds a Pump over driver, logging through log.
func New(log *logrus.Entry, driver *engine.Driver) *Pump {
	return &Pump{
		log:       log,
		engine:    driver,
		logSubs:   newBroadcaster[LogRecord](),
		eventSubs: newBroadcaster[events.Message](),
	}
}

// SubscribeLogs returns a channel of log records and an unsubscribe func.
func (p *Pump) SubscribeLogs() (<-chan LogRecord, func()) {
	return p.logSubs.subscribe()
}

// SubscribeEvents returns a channel of engine events and an unsubscribe
// func.
func (p *Pump) SubscribeEvents() (<-chan events.Message, func()) {
	return p.eventSubs.subscribe()
}

// Run enumerates currently-running labeled containers, spawns a follower
// per container, then subscribes to engine events and spawns or lets die
// followers as containers start and stop. Run blocks until ctx is
// cancelled or the engine's event stream reports an error.
func (p *Pump) Run(ctx context.Context) error {
	inband := true
	running, err := p.engine.List(ctx, engine.ListFilter{Inband: &inband, Status: "running"})
	if err != nil {
		return err
	}
	for _, c := range running {
		p.spawnFollower(ctx, c.ID, c.Name)
	}

	args := filters.NewArgs(filters.Arg("type", "container"), filters.Arg("label", engine.InbandLabel))
	msgs, errs := p.engine.Client.Events(ctx, events.ListOptions{Filters: args})

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if err != nil {
				p.log.WithError(err).Warn("event stream closed")
			}
			return nil
		case msg := <-msgs:
			p.eventSubs.publish(msg)
			p.handleEvent(ctx, msg)
		}
	}
}

func (p *Pump) handleEvent(ctx context.Context, msg events.Message) {
	if msg.Type != "container" {
		return
	}
	switch msg.Action {
	case "start":
		name := msg.Actor.Attributes["name"]
		p.spawnFollower(ctx, msg.Actor.ID, name)
	case "stop":
		// the follower for this container exits on its own once the
		// engine closes the log stream; nothing to do here.
	}
}

// spawnFollower starts a goroutine that reads containerID's log stream
// from now, decodes multiplex frames, and publishes LogRecords until the
// stream closes or ctx is cancelled. A follower's failure is isolated:
// it never propagates to other followers or to Run.
func (p *Pump) spawnFollower(ctx context.Context, containerID, containerName string) {
	go func() {
		since := strconv.FormatInt(time.Now().Unix(), 10)

		reader, err := p.engine.Client.ContainerLogs(ctx, containerID, types.ContainerLogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
			Since:      since,
		})
		if err != nil {
			p.log.WithError(err).WithField("container", containerName).Warn("log follower failed to attach")
			return
		}
		defer reader.Close()

		err = decodeFrames(reader, func(f DecodedFrame) {
			p.logSubs.publish(LogRecord{
				TimestampMs:   time.Now().UnixMilli(),
				ContainerID:   containerID,
				ContainerName: containerName,
				Stream:        f.Stream,
				Length:        f.Length,
				Payload:       f.Payload,
			})
		})
		if err != nil {
			p.log.WithError(err).WithField("container", containerName).Warn("log follower exited with error")
		}
	}()
}
