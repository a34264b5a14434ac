package service

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "qvote"

// MetricsCollector exports prometheus instruments and keeps per-operation
// timings for the JSON snapshot.
type MetricsCollector struct {
	keysIssued    *prometheus.CounterVec
	ballotsSealed *prometheus.CounterVec
	sealLatency   prometheus.Histogram
	attacks       *prometheus.CounterVec
	activeKeys    prometheus.Gauge

	mu      sync.RWMutex
	keyGen  operationStats
	sealing operationStats
}

type operationStats struct {
	startTime time.Time
	endTime   time.Time
	count     int
	totalTime time.Duration
}

// OperationMetrics contains timing information for an operation
type OperationMetrics struct {
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Count          int       `json:"count"`
	ProcessingTime int64     `json:"processing_time_ms"`
}

type MetricsSnapshot struct {
	KeyGeneration OperationMetrics `json:"key_generation"`
	Sealing       OperationMetrics `json:"sealing"`
}

func NewMetricsCollector(registerer prometheus.Registerer) (*MetricsCollector, error) {
	mc := &MetricsCollector{
		keysIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "keys_issued_total",
				Help:      "number of quantum channel runs by outcome",
			},
			[]string{"status"},
		),
		ballotsSealed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ballots_sealed_total",
				Help:      "number of ballots sealed by election",
			},
			[]string{"election"},
		),
		sealLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "seal_duration_seconds",
			Help:      "time to validate, seal and buffer one ballot",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		attacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attacks_simulated_total",
				Help:      "number of simulated attacks by kind and detection",
			},
			[]string{"kind", "detected"},
		),
		activeKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_session_keys",
			Help:      "number of live session keys",
		}),
	}

	for _, c := range []prometheus.Collector{mc.keysIssued, mc.ballotsSealed, mc.sealLatency, mc.attacks, mc.activeKeys} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return mc, nil
}

// RecordKeyIssued counts one channel run.
func (mc *MetricsCollector) RecordKeyIssued(secure bool, duration time.Duration) {
	status := "secure"
	if !secure {
		status = "compromised"
	}
	mc.keysIssued.WithLabelValues(status).Inc()
	mc.record(&mc.keyGen, duration)
}

func (mc *MetricsCollector) RecordBallotSealed(election string, duration time.Duration) {
	mc.ballotsSealed.WithLabelValues(election).Inc()
	mc.sealLatency.Observe(duration.Seconds())
	mc.record(&mc.sealing, duration)
}

func (mc *MetricsCollector) RecordAttack(kind string, detected bool) {
	label := "false"
	if detected {
		label = "true"
	}
	mc.attacks.WithLabelValues(kind, label).Inc()
}

func (mc *MetricsCollector) SetActiveKeys(n int) {
	mc.activeKeys.Set(float64(n))
}

func (mc *MetricsCollector) record(stats *operationStats, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	if stats.count == 0 {
		stats.startTime = now.Add(-duration)
	}
	stats.count++
	stats.endTime = now
	stats.totalTime += duration
}

// Snapshot returns current timings for all operations
func (mc *MetricsCollector) Snapshot() MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return MetricsSnapshot{
		KeyGeneration: mc.keyGen.toMetrics(),
		Sealing:       mc.sealing.toMetrics(),
	}
}

func (s operationStats) toMetrics() OperationMetrics {
	return OperationMetrics{
		StartTime:      s.startTime,
		EndTime:        s.endTime,
		Count:          s.count,
		ProcessingTime: s.totalTime.Milliseconds(),
	}
}
