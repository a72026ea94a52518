package progress_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NamanBalaji/tfm/internal/progress"
)

func TestSnapshot_Percentage(t *testing.T) {
	tests := []struct {
		name string
		snap progress.Snapshot
		want float64
	}{
		{"empty", progress.Snapshot{}, 0},
		{"half by bytes", progress.Snapshot{BytesDone: 5, BytesTotal: 10}, 50},
		{"done", progress.Snapshot{BytesDone: 10, BytesTotal: 10}, 100},
		{"zero byte files use chunk count", progress.Snapshot{ChunksDone: 1, ChunksTotal: 4}, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.snap.GetPercentage(), 0.001)
		})
	}
}

func TestSnapshot_ETA(t *testing.T) {
	assert.Equal(t, "--", progress.Snapshot{}.GetETA())
	assert.Equal(t, "1m30s", progress.Snapshot{ETA: 90 * time.Second}.GetETA())
}

func TestMeter_SpeedAndEstimate(t *testing.T) {
	m := progress.NewMeter(10 * time.Second)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(0), m.Speed())

	m.Observe(start, 0)
	m.Observe(start.Add(2*time.Second), 200)

	assert.Equal(t, int64(100), m.Speed())

	snap := m.Estimate(progress.Snapshot{BytesDone: 200, BytesTotal: 1200})
	assert.Equal(t, int64(100), snap.SpeedBPS)
	assert.Equal(t, 10*time.Second, snap.ETA)

	m.Reset()
	assert.Equal(t, int64(0), m.Speed())
}

func TestMeter_DropsSamplesOutsideWindow(t *testing.T) {
	m := progress.NewMeter(5 * time.Second)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	m.Observe(start, 0)
	m.Observe(start.Add(20*time.Second), 1000)
	m.Observe(start.Add(21*time.Second), 1100)
	m.Observe(start.Add(22*time.Second), 1200)

	assert.Equal(t, int64(100), m.Speed())
}
