package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveDocument(t *testing.T) {
	c := documentsTotal.WithLabelValues("cost", "ACCEPTED")
	before := testutil.ToFloat64(c)

	ObserveDocument("cost", "ACCEPTED")
	ObserveDocument("cost", "ACCEPTED")

	assert.InDelta(t, before+2, testutil.ToFloat64(c), 0.0001)
}

func TestCacheCounters(t *testing.T) {
	hit := rateCacheTotal.WithLabelValues("hit")
	miss := rateCacheTotal.WithLabelValues("miss")
	h0, m0 := testutil.ToFloat64(hit), testutil.ToFloat64(miss)

	CacheHit()
	CacheMiss()
	CacheMiss()

	assert.InDelta(t, h0+1, testutil.ToFloat64(hit), 0.0001)
	assert.InDelta(t, m0+2, testutil.ToFloat64(miss), 0.0001)
}

func TestHistogramsRegister(t *testing.T) {
	ObserveBatch("revenue", 3*time.Second)
	CaptureDependency("extraction", 1500*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(batchDuration, "docledger_batch_duration_seconds"))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(dependencyLatency, "docledger_dependency_latency_seconds"), 1)
}
