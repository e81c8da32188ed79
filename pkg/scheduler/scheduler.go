// Package scheduler is the runtime glue: it spawns detached long-running
// workers under a shared cancellation scope and logs whatever they return,
// swallowing nothing but context cancellation.
package scheduler

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Scheduler supervises a set of named background tasks sharing one
// cancellation scope.
type Scheduler struct {
	log    *logrus.Entry
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler whose tasks are all cancelled together when
// parent is done or Shutdown is called.
func New(parent context.Context, log *logrus.Entry) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{log: log, ctx: ctx, cancel: cancel}
}

// Spawn launches fn as a detached goroutine under the scheduler's
// cancellation scope. A non-nil, non-cancellation error returned by fn is
// logged; it does not affect sibling tasks.
func (s *Scheduler) Spawn(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.WithField("task", name).Errorf("task panicked: %v", r)
			}
		}()
		if err := fn(s.ctx); err != nil {
			if s.ctx.Err() != nil {
				s.log.WithField("task", name).Debug("task stopped on cancellation")
				return
			}
			s.log.WithField("task", name).WithError(err).Error("task exited with error")
		}
	}()
}

// Context returns the scheduler's shared cancellation context, for
// callers that need to pass it through to a single non-looping call
// rather than a registered task.
func (s *Scheduler) Context() context.Context {
	return s.ctx
}

// Shutdown cancels every spawned task and waits for them to return.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
