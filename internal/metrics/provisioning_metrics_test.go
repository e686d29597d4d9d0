package metrics

import (
	"testing"
	"time"

	"github.com/Dhoini/numgate/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisioningMetricsCount(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewProvisioningMetrics(registry, logger.NewNop()).(*provisioningMetrics)

	m.IncTrial(OutcomeSuccess)
	m.IncTrial(OutcomeRejected)
	m.IncTrial(OutcomeRejected)
	m.IncPurchase(OutcomeSuccess)
	m.IncRevocation()
	m.ObserveBackendCall("purchase", OutcomeSuccess, 150*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.trials.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.trials.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.purchases.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.revocations))

	count, err := testutil.GatherAndCount(registry, "provisioning_backend_call_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSystemMetricsRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	sm := NewSystemMetrics(registry, logger.NewNop())

	sm.Record()
	sm.Stop()

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
