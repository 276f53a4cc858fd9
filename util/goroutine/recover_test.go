package goroutine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecover_NoPanic(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	func() {
		defer Recover("quiet", logger)
	}()
}

func TestRecover_LogsPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	func() {
		defer Recover("poller-threats", logger)
		panic("decoder exploded")
	}()

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Goroutine panic recovered", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "poller-threats", fields["goroutine"])
	assert.Equal(t, "decoder exploded", fields["panic"])
	assert.Contains(t, fields["stack"], "TestRecover_LogsPanic")
}

func TestRecover_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger", nil)
		panic("still recovered")
	})
}

func TestGo_WaitsAndRecovers(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	var wg sync.WaitGroup
	ran := make(chan struct{}, 1)
	Go(&wg, "worker", logger, func() { ran <- struct{}{} })
	Go(&wg, "crasher", logger, func() { panic("boom") })
	wg.Wait()

	assert.Len(t, ran, 1)
	assert.Equal(t, 1, logs.Len())
}
