package detect

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Stats accumulates pipeline timing and volume counters. It is owned by
// the caller and passed into the pipeline explicitly; there is no package
// level state. Safe for concurrent use.
type Stats struct {
	mu              sync.Mutex
	sampleCount     int64
	detectionCount  int64
	emptyCount      int64
	forwardTime     time.Duration
	postprocessTime time.Duration
	lastReset       time.Time
}

// NewStats returns a Stats with the reset window starting now.
func NewStats() *Stats {
	return &Stats{lastReset: time.Now()}
}

// AddForward records backbone time for a batch. The backbone itself is
// outside this module, so the driver reports its timing here to keep the
// forward/postprocess averages comparable.
func (s *Stats) AddForward(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forwardTime += d
}

// AddBatch records one postprocessed batch: sample count, surviving
// detection count, empty-sample count and elapsed postprocess time.
func (s *Stats) AddBatch(samples, detections, empty int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleCount += int64(samples)
	s.detectionCount += int64(detections)
	s.emptyCount += int64(empty)
	s.postprocessTime += elapsed
}

// AvgForward returns mean backbone time per sample, zero before any sample.
func (s *Stats) AvgForward() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleCount == 0 {
		return 0
	}
	return s.forwardTime / time.Duration(s.sampleCount)
}

// AvgPostprocess returns mean postprocess time per sample, zero before any
// sample.
func (s *Stats) AvgPostprocess() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleCount == 0 {
		return 0
	}
	return s.postprocessTime / time.Duration(s.sampleCount)
}

// GetAndReset returns the counters accumulated since the last reset along
// with the window duration, then zeroes them. Used by periodic status
// loggers.
func (s *Stats) GetAndReset() (samples, detections, empty int64, postprocess, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	window = now.Sub(s.lastReset)
	samples = s.sampleCount
	detections = s.detectionCount
	empty = s.emptyCount
	postprocess = s.postprocessTime

	s.sampleCount = 0
	s.detectionCount = 0
	s.emptyCount = 0
	s.forwardTime = 0
	s.postprocessTime = 0
	s.lastReset = now

	return
}

// LogStats logs one line of windowed throughput and resets the counters.
// Windows with no samples log nothing.
func (s *Stats) LogStats() {
	samples, detections, empty, postprocess, window := s.GetAndReset()
	if samples == 0 {
		return
	}
	samplesPerSec := float64(samples) / window.Seconds()
	perSample := postprocess / time.Duration(samples)

	logMsg := fmt.Sprintf("Detect stats: %.1f samples/sec, %d detections, %s postprocess/sample",
		samplesPerSec, detections, perSample.Round(time.Microsecond))
	if empty > 0 {
		logMsg += fmt.Sprintf(", %d empty samples", empty)
	}
	log.Print(logMsg)
}

// StatsSnapshot is a point-in-time copy of the counters for JSON reporting.
type StatsSnapshot struct {
	Samples          int64         `json:"samples"`
	Detections       int64         `json:"detections"`
	EmptySamples     int64         `json:"empty_samples"`
	ForwardTotal     time.Duration `json:"forward_total_ns"`
	PostprocessTotal time.Duration `json:"postprocess_total_ns"`
	WindowStart      time.Time     `json:"window_start"`
}

// Snapshot returns a copy of the current counters without resetting them.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Samples:          s.sampleCount,
		Detections:       s.detectionCount,
		EmptySamples:     s.emptyCount,
		ForwardTotal:     s.forwardTime,
		PostprocessTotal: s.postprocessTime,
		WindowStart:      s.lastReset,
	}
}
