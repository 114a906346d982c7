package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/federata/federata/pkg/logger"
)

func quietLogger() *logger.Logger {
	log := logger.New("engine-test", "0.0.0")
	log.DisableConsoleOutput()
	return log
}

// Initialization runs as a pump like extract and apply do, so a member
// that fails to connect at startup, or one registered later, is retried
// on every interval instead of being dropped until a restart.
func TestPumpTicksImmediatelyAndPeriodically(t *testing.T) {
	e := &Engine{logger: quietLogger()}

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.pump(ctx, "initialize", 10*time.Millisecond, func(context.Context) {
			ticks.Add(1)
		})
	}()

	// First tick fires without waiting for the first interval
	require.Eventually(t, func() bool { return ticks.Load() >= 1 },
		100*time.Millisecond, time.Millisecond)

	require.Eventually(t, func() bool { return ticks.Load() >= 3 },
		time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop on cancellation")
	}
}

func TestPumpStopsWithoutTicking(t *testing.T) {
	e := &Engine{logger: quietLogger()}

	ctx, cancel := context.WithCancel(context.Background())

	var ticks atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.pump(ctx, "extract", time.Hour, func(context.Context) {
			ticks.Add(1)
		})
	}()

	require.Eventually(t, func() bool { return ticks.Load() == 1 },
		time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int32(1), ticks.Load())
}

func TestLockMapKeying(t *testing.T) {
	l := lockMap{locks: make(map[string]*sync.Mutex)}

	extract := l.get("member-1/extract")
	apply := l.get("member-1/apply")
	other := l.get("member-2/extract")

	// Same member and direction share one mutex; initialization takes the
	// extract lock through the same key to keep DDL off a running extract
	assert.Same(t, extract, l.get("member-1/extract"))
	assert.NotSame(t, extract, apply)
	assert.NotSame(t, extract, other)
}
