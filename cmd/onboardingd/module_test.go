package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestRunInBackgroundStopsOnShutdown(t *testing.T) {
	lc := fxtest.NewLifecycle(t)

	started := make(chan struct{})
	stopped := make(chan struct{})
	runInBackground(lc, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(stopped)
	})

	lc.RequireStart()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("background task did not start")
	}

	lc.RequireStop()

	select {
	case <-stopped:
	default:
		t.Fatal("stop returned before the background task exited")
	}
}

func TestRunInBackgroundStopHonorsDeadline(t *testing.T) {
	lc := fxtest.NewLifecycle(t)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	runInBackground(lc, func(context.Context) {
		<-release
	})

	require.NoError(t, lc.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, lc.Stop(ctx), "stop gives up when its context expires")
}
