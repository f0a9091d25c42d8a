package ioruntime

import (
	"testing"

	"github.com/ehrlich-b/ioruntime/internal/opcode"
)

func TestMetrics_InitialSnapshotIsEmpty(t *testing.T) {
	m := NewMetrics()
	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("TotalOps = %d, want 0", snap.TotalOps)
	}
}

func TestMetrics_RecordCompletion(t *testing.T) {
	m := NewMetrics()
	m.RecordSubmit()
	m.RecordCompletion(opcode.Read, 1024, 1_000_000, true)
	m.RecordSubmit()
	m.RecordCompletion(opcode.Write, 2048, 2_000_000, true)
	m.RecordSubmit()
	m.RecordCompletion(opcode.Read, 512, 500_000, false)

	snap := m.Snapshot()
	if snap.OpsByCode[opcode.Read] != 2 {
		t.Errorf("OpsByCode[Read] = %d, want 2", snap.OpsByCode[opcode.Read])
	}
	if snap.OpsByCode[opcode.Write] != 1 {
		t.Errorf("OpsByCode[Write] = %d, want 1", snap.OpsByCode[opcode.Write])
	}
	if snap.BytesByCode[opcode.Read] != 1024 {
		t.Errorf("BytesByCode[Read] = %d, want 1024 (failed read shouldn't count)", snap.BytesByCode[opcode.Read])
	}
	if snap.ErrorsByCode[opcode.Read] != 1 {
		t.Errorf("ErrorsByCode[Read] = %d, want 1", snap.ErrorsByCode[opcode.Read])
	}
	if snap.TotalOps != 3 {
		t.Errorf("TotalOps = %d, want 3", snap.TotalOps)
	}
}

func TestMetrics_InFlightTracksSubmitAndComplete(t *testing.T) {
	m := NewMetrics()
	m.RecordSubmit()
	m.RecordSubmit()
	if got := m.InFlight.Load(); got != 2 {
		t.Fatalf("InFlight = %d, want 2", got)
	}
	m.RecordCompletion(opcode.Write, 0, 1000, true)
	if got := m.InFlight.Load(); got != 1 {
		t.Fatalf("InFlight = %d, want 1 after one completion", got)
	}
	if got := m.MaxInFlight.Load(); got != 2 {
		t.Fatalf("MaxInFlight = %d, want 2", got)
	}
}

func TestMetrics_LatencyPercentiles(t *testing.T) {
	m := NewMetrics()
	latencies := []uint64{1_000, 10_000, 100_000, 1_000_000, 10_000_000}
	for _, l := range latencies {
		m.RecordSubmit()
		m.RecordCompletion(opcode.Fsync, 0, l, true)
	}
	snap := m.Snapshot()
	if snap.LatencyP50Ns == 0 {
		t.Errorf("LatencyP50Ns = 0, want nonzero after recording latencies")
	}
	if snap.LatencyP99Ns < snap.LatencyP50Ns {
		t.Errorf("LatencyP99Ns (%d) should be >= LatencyP50Ns (%d)", snap.LatencyP99Ns, snap.LatencyP50Ns)
	}
}

func TestNoOpObserver_DoesNotPanic(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveSubmit()
	o.ObserveCompletion(opcode.Read, 10, 10, true)
}

func TestMetricsObserver_RecordsIntoMetrics(t *testing.T) {
	m := NewMetrics()
	o := NewMetricsObserver(m)
	o.ObserveSubmit()
	o.ObserveCompletion(opcode.Send, 64, 1000, true)

	snap := m.Snapshot()
	if snap.OpsByCode[opcode.Send] != 1 {
		t.Errorf("OpsByCode[Send] = %d, want 1", snap.OpsByCode[opcode.Send])
	}
}
