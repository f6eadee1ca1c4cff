package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// A single instance for the whole package: promauto registers against the
// default registry, so a second NewMetrics in this process would panic.
var testMetrics = NewMetrics("metrics_test")

func TestArchiveCounters(t *testing.T) {
	testMetrics.RecordArchiveFlushed(50)
	testMetrics.RecordArchiveFlushed(25)
	testMetrics.RecordArchiveDropped()

	if got := testutil.ToFloat64(testMetrics.ArchiveFlushed); got != 75 {
		t.Errorf("archive flushed = %v, want 75", got)
	}
	if got := testutil.ToFloat64(testMetrics.ArchiveDropped); got != 1 {
		t.Errorf("archive dropped = %v, want 1", got)
	}
}

func TestDBConnectionGauges(t *testing.T) {
	testMetrics.UpdateDBConnections(3, 7, 10)

	if got := testutil.ToFloat64(testMetrics.DBConnections.WithLabelValues("idle")); got != 3 {
		t.Errorf("idle = %v, want 3", got)
	}
	if got := testutil.ToFloat64(testMetrics.DBConnections.WithLabelValues("in_use")); got != 7 {
		t.Errorf("in_use = %v, want 7", got)
	}
	if got := testutil.ToFloat64(testMetrics.DBConnections.WithLabelValues("total")); got != 10 {
		t.Errorf("total = %v, want 10", got)
	}

	// Gauges track the latest snapshot, not a running sum.
	testMetrics.UpdateDBConnections(10, 0, 10)
	if got := testutil.ToFloat64(testMetrics.DBConnections.WithLabelValues("in_use")); got != 0 {
		t.Errorf("in_use after update = %v, want 0", got)
	}
}
