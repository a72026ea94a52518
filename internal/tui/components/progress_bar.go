package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/NamanBalaji/tfm/internal/progress"
	"github.com/NamanBalaji/tfm/internal/status"
	"github.com/NamanBalaji/tfm/internal/tui/styles"
)

const (
	filledCell = "█"
	stopCell   = "▌"
	emptyCell  = "░"
)

// ProgressBar draws the committed part of a job. A paused or failed job
// with work left gets a stop marker where its transfer stopped.
func ProgressBar(width int, p progress.Snapshot, s status.Status) string {
	if width <= 0 {
		return ""
	}

	filled := int(float64(width) * completedFraction(p, s))
	empty := width - filled

	marker := ""
	if empty > 0 && (s == status.Paused || s == status.Failed) {
		marker = stopCell
		empty--
	}

	style := lipgloss.NewStyle().Foreground(statusColor(s))

	return style.Render(strings.Repeat(filledCell, filled)+marker) +
		styles.ProgressBarEmptyStyle.Render(strings.Repeat(emptyCell, empty))
}

// completedFraction prefers bytes and falls back to chunk counts, which is
// all a snapshot of an empty file has.
func completedFraction(p progress.Snapshot, s status.Status) float64 {
	var f float64

	switch {
	case s == status.Completed:
		return 1
	case p.BytesTotal > 0:
		f = float64(p.BytesDone) / float64(p.BytesTotal)
	case p.ChunksTotal > 0:
		f = float64(p.ChunksDone) / float64(p.ChunksTotal)
	}

	return min(max(f, 0), 1)
}

func statusColor(s status.Status) lipgloss.Color {
	switch s {
	case status.Active:
		return styles.Teal
	case status.Paused:
		return styles.Peach
	case status.Completed:
		return styles.Green
	case status.Failed:
		return styles.Red
	default:
		return styles.Yellow
	}
}
