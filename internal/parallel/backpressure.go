package parallel

import (
	"sync/atomic"
)

// BackpressureStrategy controls what CheckPressure does once a subscriber's
// queue crosses its high watermark. The event bus only ever runs
// StrategyDrop: a stalled TUI, web dashboard, or node poller must lose
// events rather than block a worker's Publish call or grow without bound.
type BackpressureStrategy int

const (
	StrategyDrop BackpressureStrategy = iota
)

// BackpressureConfig holds one subscriber's backpressure thresholds.
type BackpressureConfig struct {
	Strategy      BackpressureStrategy
	MaxQueueSize  int
	HighWatermark float64 // CheckPressure starts dropping above this fraction full
	LowWatermark  float64 // pressure clears once queue length falls back under this fraction
}

// DefaultBackpressureConfig returns the event bus's default thresholds:
// drop once a subscriber's queue is 80% full, clear the pressure flag once
// it drains back under 50%.
func DefaultBackpressureConfig() *BackpressureConfig {
	return &BackpressureConfig{
		Strategy:      StrategyDrop,
		MaxQueueSize:  10000,
		HighWatermark: 0.8,
		LowWatermark:  0.5,
	}
}

// BackpressureController tracks one subscriber's pressure state and its
// drop/process counters.
type BackpressureController struct {
	config      *BackpressureConfig
	isPressured int32
	stats       *BackpressureStats
}

// BackpressureStats tracks backpressure statistics for one subscriber.
type BackpressureStats struct {
	ItemsProcessed  int64
	ItemsDropped    int64
	PressureEvents  int64
	CurrentPressure float64
}

// NewBackpressureController creates a controller over config, or the
// default config if config is nil.
func NewBackpressureController(config *BackpressureConfig) *BackpressureController {
	if config == nil {
		config = DefaultBackpressureConfig()
	}
	return &BackpressureController{
		config: config,
		stats:  &BackpressureStats{},
	}
}

// CheckPressure reports whether the caller may still enqueue another event
// for this subscriber. It returns false (drop) whenever queueLen is above
// HighWatermark and true otherwise; only the pressured flag has
// hysteresis, staying set until queueLen falls back under LowWatermark.
func (bc *BackpressureController) CheckPressure(queueLen, queueCap int) bool {
	if queueCap == 0 {
		return true
	}

	pressure := float64(queueLen) / float64(queueCap)
	bc.stats.CurrentPressure = pressure

	if pressure > bc.config.HighWatermark {
		if atomic.CompareAndSwapInt32(&bc.isPressured, 0, 1) {
			atomic.AddInt64(&bc.stats.PressureEvents, 1)
		}
		atomic.AddInt64(&bc.stats.ItemsDropped, 1)
		return false
	}

	if pressure < bc.config.LowWatermark {
		atomic.StoreInt32(&bc.isPressured, 0)
	}
	return true
}

// IsPressured reports whether this subscriber is currently over its high
// watermark.
func (bc *BackpressureController) IsPressured() bool {
	return atomic.LoadInt32(&bc.isPressured) == 1
}

// GetStats returns a snapshot of this subscriber's backpressure counters.
func (bc *BackpressureController) GetStats() BackpressureStats {
	return BackpressureStats{
		ItemsProcessed:  atomic.LoadInt64(&bc.stats.ItemsProcessed),
		ItemsDropped:    atomic.LoadInt64(&bc.stats.ItemsDropped),
		PressureEvents:  atomic.LoadInt64(&bc.stats.PressureEvents),
		CurrentPressure: bc.stats.CurrentPressure,
	}
}

// RecordProcessed records that one queued event was delivered to this
// subscriber.
func (bc *BackpressureController) RecordProcessed() {
	atomic.AddInt64(&bc.stats.ItemsProcessed, 1)
}
