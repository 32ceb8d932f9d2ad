package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNoopDiscardsEverything(t *testing.T) {
	s := Noop()
	s.PageFault()
	s.Eviction()
	s.SwapIn()
	s.SwapOut()
	s.COWBreak()
	s.ClusterAllocFailure()
	s.ClusterFreed()
}

func TestCollectorDescribeAndCollect(t *testing.T) {
	c := New("test")
	c.PageFault()
	c.PageFault()
	c.Eviction()

	descCh := make(chan *prometheus.Desc, 16)
	c.Describe(descCh)
	close(descCh)
	n := 0
	for range descCh {
		n++
	}
	require.Equal(t, 7, n, "expected 7 described metrics")

	metricCh := make(chan prometheus.Metric, 16)
	c.Collect(metricCh)
	close(metricCh)
	n = 0
	for range metricCh {
		n++
	}
	require.Equal(t, 7, n, "expected 7 collected metrics")
}
