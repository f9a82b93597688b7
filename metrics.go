package vash

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics from an Index.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordTrain is called after each training run. videos counts the
	// encoded videos, skipped the excluded ones.
	RecordTrain(videos, skipped int, duration time.Duration, err error)

	// RecordSkip is called for every video excluded from training.
	RecordSkip()

	// RecordEncode is called after a batch of videos was encoded.
	RecordEncode(videos, descriptors int, duration time.Duration)

	// RecordQuery is called after each query.
	RecordQuery(results int, duration time.Duration, err error)

	// RecordCommit is called after each manifest commit attempt.
	RecordCommit(duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrain(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSkip()                                {}
func (NoopMetricsCollector) RecordEncode(int, int, time.Duration)       {}
func (NoopMetricsCollector) RecordQuery(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordCommit(time.Duration, error)          {}

// BasicMetricsCollector keeps simple in-memory counters.
type BasicMetricsCollector struct {
	TrainCount       atomic.Int64
	TrainErrors      atomic.Int64
	TrainTotalNanos  atomic.Int64
	VideosEncoded    atomic.Int64
	VideosSkipped    atomic.Int64
	DescriptorsCount atomic.Int64
	EncodeTotalNanos atomic.Int64
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryTotalNanos  atomic.Int64
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
}

// RecordTrain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrain(_, _ int, duration time.Duration, err error) {
	b.TrainCount.Add(1)
	b.TrainTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TrainErrors.Add(1)
	}
}

// RecordSkip implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSkip() {
	b.VideosSkipped.Add(1)
}

// RecordEncode implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEncode(videos, descriptors int, duration time.Duration) {
	b.VideosEncoded.Add(int64(videos))
	b.DescriptorsCount.Add(int64(descriptors))
	b.EncodeTotalNanos.Add(duration.Nanoseconds())
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(_ int, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(_ time.Duration, err error) {
	b.CommitCount.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TrainCount:     b.TrainCount.Load(),
		TrainErrors:    b.TrainErrors.Load(),
		TrainAvgNanos:  avg(b.TrainTotalNanos.Load(), b.TrainCount.Load()),
		VideosEncoded:  b.VideosEncoded.Load(),
		VideosSkipped:  b.VideosSkipped.Load(),
		Descriptors:    b.DescriptorsCount.Load(),
		QueryCount:     b.QueryCount.Load(),
		QueryErrors:    b.QueryErrors.Load(),
		QueryAvgNanos:  avg(b.QueryTotalNanos.Load(), b.QueryCount.Load()),
		CommitCount:    b.CommitCount.Load(),
		CommitErrors:   b.CommitErrors.Load(),
		EncodeAvgNanos: avg(b.EncodeTotalNanos.Load(), b.TrainCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TrainCount     int64
	TrainErrors    int64
	TrainAvgNanos  int64
	VideosEncoded  int64
	VideosSkipped  int64
	Descriptors    int64
	EncodeAvgNanos int64
	QueryCount     int64
	QueryErrors    int64
	QueryAvgNanos  int64
	CommitCount    int64
	CommitErrors   int64
}
