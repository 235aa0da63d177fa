package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.OracleCall("relation", nil)
	r.OracleCall("relation", errors.New("timeout"))
	r.DecodeFallback("action")
	r.Turn("Finished")
	r.DeviceAction("Click", nil)
	r.TaskFinished("finished")

	if got := testutil.ToFloat64(r.oracleCalls.WithLabelValues("relation", "error")); got != 1 {
		t.Errorf("Expected 1 failed relation call, got %v", got)
	}
	if got := testutil.ToFloat64(r.decodeFallback.WithLabelValues("action")); got != 1 {
		t.Errorf("Expected 1 fallback decode, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 5 {
		t.Errorf("Expected 5 metric families, got %d", len(families))
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	r := New(nil)
	if r != nil {
		t.Fatal("Expected nil recorder for nil registry")
	}
	r.OracleCall("relation", nil)
	r.DecodeFallback("relation")
	r.Turn("Resolving")
	r.DeviceAction("Click", nil)
	r.TaskFinished("failed")
}
