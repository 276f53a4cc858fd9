package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	// Globals register on import; a duplicate name would have panicked already.
	assert.NotNil(t, UpdatesApplied)
	assert.NotNil(t, StaleUpdatesRejected)
	assert.NotNil(t, WindowEvictions)
	assert.NotNil(t, WindowSize)
	assert.NotNil(t, UpdateDuration)
	assert.NotNil(t, PollsTotal)
	assert.NotNil(t, StreamConnectionState)
	assert.NotNil(t, StreamReconnects)
	assert.NotNil(t, StreamMessages)
	assert.NotNil(t, Mutations)
	assert.NotNil(t, MutationsPending)
	assert.NotNil(t, ErrorsReported)
	assert.NotNil(t, BackendRequests)
	assert.NotNil(t, BackendRequestDuration)
	assert.NotNil(t, ViewClients)
}

func TestCounterVecLabels(t *testing.T) {
	before := testutil.ToFloat64(ErrorsReported.WithLabelValues("transport"))
	ErrorsReported.WithLabelValues("transport").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ErrorsReported.WithLabelValues("transport")))
}
