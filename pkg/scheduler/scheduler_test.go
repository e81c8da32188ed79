package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestSpawnRunsTask(t *testing.T) {
	s := New(context.Background(), testLogger())
	var ran atomic.Bool

	s.Spawn("noop", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	s.Shutdown()
	assert.True(t, ran.Load())
}

func TestShutdownCancelsContext(t *testing.T) {
	s := New(context.Background(), testLogger())
	started := make(chan struct{})

	s.Spawn("blocker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	done := make(chan struct{})
	go func() {
		s.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not return after cancellation")
	}
}

func TestSpawnErrorDoesNotAffectSiblings(t *testing.T) {
	s := New(context.Background(), testLogger())
	var siblingRan atomic.Bool

	s.Spawn("failing", func(ctx context.Context) error {
		return errors.New("boom")
	})
	s.Spawn("sibling", func(ctx context.Context) error {
		siblingRan.Store(true)
		return nil
	})

	s.Shutdown()
	assert.True(t, siblingRan.Load())
}
