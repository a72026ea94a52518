// Package progress reports how far a transfer job has come.
package progress

import (
	"fmt"
	"sync"
	"time"
)

type Progress interface {
	GetTotalSize() int64
	GetTransferred() int64
	GetPercentage() float64
	GetSpeedBPS() int64
	GetETA() string
}

// Snapshot counts completed chunks only, so it never moves backwards while
// a job runs.
type Snapshot struct {
	ChunksDone  int
	ChunksTotal int
	BytesDone   int64
	BytesTotal  int64
	SpeedBPS    int64
	ETA         time.Duration
}

var _ Progress = Snapshot{}

func (s Snapshot) GetTotalSize() int64 {
	return s.BytesTotal
}

func (s Snapshot) GetTransferred() int64 {
	return s.BytesDone
}

func (s Snapshot) GetPercentage() float64 {
	if s.BytesTotal > 0 {
		if s.BytesDone >= s.BytesTotal {
			return 100
		}

		return float64(s.BytesDone) / float64(s.BytesTotal) * 100
	}

	if s.ChunksTotal > 0 {
		return float64(s.ChunksDone) / float64(s.ChunksTotal) * 100
	}

	return 0
}

func (s Snapshot) GetSpeedBPS() int64 {
	return s.SpeedBPS
}

func (s Snapshot) GetETA() string {
	if s.ETA <= 0 {
		return "--"
	}

	return s.ETA.Round(time.Second).String()
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%d/%d chunks, %d/%d bytes", s.ChunksDone, s.ChunksTotal, s.BytesDone, s.BytesTotal)
}

type sample struct {
	t     time.Time
	bytes int64
}

// Meter estimates throughput over a sliding window of byte-count samples.
type Meter struct {
	mu      sync.Mutex
	window  time.Duration
	history []sample
}

func NewMeter(window time.Duration) *Meter {
	return &Meter{window: window}
}

// Observe records the cumulative byte count at now.
func (m *Meter) Observe(now time.Time, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, sample{t: now, bytes: total})

	cutoff := now.Add(-m.window)
	for len(m.history) > 2 && m.history[0].t.Before(cutoff) {
		m.history = m.history[1:]
	}
}

// Speed returns bytes per second across the retained samples.
func (m *Meter) Speed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) < 2 {
		return 0
	}

	oldest := m.history[0]
	newest := m.history[len(m.history)-1]

	elapsed := newest.t.Sub(oldest.t).Seconds()
	if elapsed <= 0 {
		return 0
	}

	return int64(float64(newest.bytes-oldest.bytes) / elapsed)
}

// Reset drops all samples, as when a paused job starts again.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = nil
}

// Estimate fills in speed and ETA on a snapshot.
func (m *Meter) Estimate(s Snapshot) Snapshot {
	s.SpeedBPS = m.Speed()

	if s.SpeedBPS > 0 && s.BytesTotal > s.BytesDone {
		remaining := s.BytesTotal - s.BytesDone
		s.ETA = time.Duration(float64(remaining) / float64(s.SpeedBPS) * float64(time.Second))
	}

	return s
}
