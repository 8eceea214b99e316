package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CounterLabelsAreOrderIndependent(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter(QueueEnqueuedTotal, map[string]string{"queue": "mirror", "result": "deduped"}, "")
	r.AddToCounter(QueueEnqueuedTotal, 2, map[string]string{"result": "deduped", "queue": "mirror"}, "")

	assert.Equal(t, float64(3), r.CounterValue(QueueEnqueuedTotal, map[string]string{"queue": "mirror", "result": "deduped"}))
	assert.Equal(t, float64(0), r.CounterValue(QueueEnqueuedTotal, map[string]string{"queue": "role-sync"}))
}

func TestRegistry_Gauge(t *testing.T) {
	r := NewRegistry()

	_, ok := r.GaugeValue(QueueStaleProcessing, nil)
	assert.False(t, ok)

	r.SetGauge(QueueStaleProcessing, 4, nil, "")
	r.SetGauge(QueueStaleProcessing, 2, nil, "")
	v, ok := r.GaugeValue(QueueStaleProcessing, nil)
	require.True(t, ok)
	assert.Equal(t, float64(2), v)
}

func TestRegistry_TimerPercentiles(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 100; i++ {
		r.RecordTimer(HTTPRequestDuration, time.Duration(i)*time.Millisecond, nil, "")
	}

	all := r.GetAllMetrics()
	timers := all["timers"].(map[string]*TimerMetric)
	timer := timers[HTTPRequestDuration]
	require.NotNil(t, timer)
	assert.Equal(t, int64(100), timer.Count)
	assert.Equal(t, float64(1), timer.Min)
	assert.Equal(t, float64(100), timer.Max)
	assert.Equal(t, float64(96), timer.P95)
	assert.Equal(t, float64(100), timer.P99)
}

func TestRegistry_ConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncrementCounter(QueueClaimedTotal, map[string]string{"queue": "mirror"}, "")
		}()
	}
	wg.Wait()
	assert.Equal(t, float64(50), r.CounterValue(QueueClaimedTotal, map[string]string{"queue": "mirror"}))
}
