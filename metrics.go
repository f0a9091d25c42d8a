package ioruntime

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/ioruntime/internal/opcode"
)

// LatencyBuckets defines the latency histogram buckets in
// nanoseconds, unchanged from the teacher's metrics.go: logarithmic
// spacing from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8
const numOpcodes = int(opcode.Cancel) + 1

// Metrics tracks performance and operational statistics for the
// runtime, keyed by opcode. Adapted from the teacher's metrics.go,
// which kept one counter set per I/O type (read/write/discard/flush);
// this generalizes that into a per-opcode array sized to the op enum
// in internal/opcode.
type Metrics struct {
	ops    [numOpcodes]atomic.Uint64
	bytes  [numOpcodes]atomic.Uint64
	errors [numOpcodes]atomic.Uint64

	InFlight    atomic.Int64
	MaxInFlight atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance, stamping StartTime to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordCompletion records one completed operation of the given
// opcode: its byte count (0 for ops with no transfer, e.g. Fsync),
// latency, and success/failure.
func (m *Metrics) RecordCompletion(op opcode.Op, bytes uint64, latencyNs uint64, success bool) {
	m.ops[op].Add(1)
	if success {
		m.bytes[op].Add(bytes)
	} else {
		m.errors[op].Add(1)
	}
	m.recordLatency(latencyNs)
	m.InFlight.Add(-1)
}

// RecordSubmit increments the in-flight counter and updates the
// high-water mark, called when an operation is handed to the backend.
func (m *Metrics) RecordSubmit() {
	n := m.InFlight.Add(1)
	for {
		current := m.MaxInFlight.Load()
		if n <= int64(current) {
			break
		}
		if m.MaxInFlight.CompareAndSwap(current, uint32(n)) {
			break
		}
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop stamps StopTime, freezing uptime calculations in Snapshot.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics with derived
// statistics computed.
type MetricsSnapshot struct {
	OpsByCode    map[opcode.Op]uint64
	BytesByCode  map[opcode.Op]uint64
	ErrorsByCode map[opcode.Op]uint64

	MaxInFlight uint32
	InFlight    int64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TotalOps   uint64
	TotalBytes uint64
	ErrorRate  float64
	IOPS       float64
	Bandwidth  float64
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		OpsByCode:    make(map[opcode.Op]uint64),
		BytesByCode:  make(map[opcode.Op]uint64),
		ErrorsByCode: make(map[opcode.Op]uint64),
		MaxInFlight:  m.MaxInFlight.Load(),
		InFlight:     m.InFlight.Load(),
	}

	var totalOps, totalBytes, totalErrors uint64
	for i := 0; i < numOpcodes; i++ {
		op := opcode.Op(i)
		n := m.ops[op].Load()
		b := m.bytes[op].Load()
		e := m.errors[op].Load()
		if n == 0 && b == 0 && e == 0 {
			continue
		}
		snap.OpsByCode[op] = n
		snap.BytesByCode[op] = b
		snap.ErrorsByCode[op] = e
		totalOps += n
		totalBytes += b
		totalErrors += e
	}
	snap.TotalOps = totalOps
	snap.TotalBytes = totalBytes

	opCount := m.OpCount.Load()
	totalLatencyNs := m.TotalLatencyNs.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.IOPS = float64(totalOps) / uptimeSeconds
		snap.Bandwidth = float64(totalBytes) / uptimeSeconds
	}

	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable metrics collection, invoked by the
// runtime's submission path and by each operation's completion wrapper
// on the worker goroutine that runs its callback.
type Observer interface {
	// ObserveSubmit is called when an operation is enqueued for the
	// reactor.
	ObserveSubmit()
	// ObserveCompletion is called for each completed operation.
	ObserveCompletion(op opcode.Op, bytes uint64, latencyNs uint64, success bool)
}

// NoOpObserver discards all observations.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSubmit()                                    {}
func (NoOpObserver) ObserveCompletion(opcode.Op, uint64, uint64, bool) {}

// MetricsObserver implements Observer by recording into a Metrics
// instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit() { o.metrics.RecordSubmit() }

func (o *MetricsObserver) ObserveCompletion(op opcode.Op, bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordCompletion(op, bytes, latencyNs, success)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
