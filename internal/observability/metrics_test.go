package observability

import (
	"testing"
	"time"

	"github.com/danmuck/peerlink/internal/logging"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	logging.ConfigureTests()
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("peer-a", "GET", "/healthz", 200, 12*time.Millisecond)
	RecordEmit("async", true)
	RecordCall("saved", "owner", "ok", 24*time.Millisecond)
	RecordConnectionEvent("connected")
	RecordPeerTrigger("peer-a", "save", "ok", time.Millisecond)

	SetWaitersInFlight(3)
	if got := testutil.ToFloat64(bridgeWaiters); got != 3 {
		t.Fatalf("waiters gauge=%v want 3", got)
	}
	before := testutil.ToFloat64(connectionEvents.WithLabelValues("reconnected"))
	RecordConnectionEvent("reconnected")
	if got := testutil.ToFloat64(connectionEvents.WithLabelValues("reconnected")); got != before+1 {
		t.Fatalf("reconnected counter=%v want %v", got, before+1)
	}
	logging.Infof("observability/metrics: registration idempotent and recording paths executed")
}
