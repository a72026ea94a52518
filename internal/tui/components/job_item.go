package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/NamanBalaji/tfm/internal/engine"
	"github.com/NamanBalaji/tfm/internal/status"
	"github.com/NamanBalaji/tfm/internal/transfer"
	"github.com/NamanBalaji/tfm/internal/tui/styles"
)

const maxNameLen = 40

// StatusLabel renders the status of a job with its marker.
func StatusLabel(s status.Status) string {
	switch s {
	case status.Active:
		return styles.StatusActive.Render("● running")
	case status.Pending:
		return styles.StatusPending.Render("○ pending")
	case status.Paused:
		return styles.StatusPaused.Render("❚❚ paused")
	case status.Completed:
		return styles.StatusCompleted.Render("✔ completed")
	case status.Failed:
		return styles.StatusFailed.Render("✖ failed")
	default:
		return styles.StatusFailed.Render("unknown")
	}
}

// JobItem renders a single job entry given its summary and the available width.
func JobItem(s engine.Summary, width int) string {
	name := s.Name
	if len(name) > maxNameLen {
		name = name[:maxNameLen-3] + "..."
	}

	progressPercent := s.Progress.GetPercentage() / 100
	if s.Status == status.Completed {
		progressPercent = 1.0
	}

	statusLabel := StatusLabel(s.Status)

	percentStyle := lipgloss.NewStyle().Width(8).Align(lipgloss.Right)
	formattedPercent := percentStyle.Render(fmt.Sprintf("%.1f%%", progressPercent*100))

	remainingSpace := width - maxNameLen - lipgloss.Width(statusLabel) - lipgloss.Width(formattedPercent) - 3
	if remainingSpace < 2 {
		remainingSpace = 2
	}

	line1 := fmt.Sprintf("%-*s %s%s%s",
		maxNameLen,
		name,
		statusLabel,
		strings.Repeat(" ", remainingSpace),
		formattedPercent)

	route := fmt.Sprintf("%s → %s", s.LocalPath, s.RemotePath)
	if s.Direction == transfer.Download {
		route = fmt.Sprintf("%s → %s", s.RemotePath, s.LocalPath)
	}

	line2 := styles.LabelStyle.Render(route)

	barWidth := width - 2
	if barWidth < 10 {
		barWidth = 10
	}

	line3 := ProgressBar(barWidth, s.Progress, s.Status)

	done := s.Progress.BytesDone
	if s.Status == status.Completed {
		done = s.Progress.BytesTotal
	}

	speedInfo := "--/s"
	if s.Status == status.Active {
		speedInfo = FormatSize(s.Progress.SpeedBPS) + "/s"
	}

	eta := "--"
	if s.Status == status.Active && s.Progress.ETA > 0 {
		eta = formatDuration(s.Progress.ETA)
	} else if s.Status == status.Completed {
		eta = "Done"
	}

	info := fmt.Sprintf("%s / %s  %d/%d chunks  %s  ETA: %s",
		FormatSize(done), FormatSize(s.Progress.BytesTotal),
		s.Progress.ChunksDone, s.Progress.ChunksTotal,
		speedInfo, eta)

	lines := []string{line1, line2, line3, styles.LabelStyle.Faint(true).Render(info)}

	if s.LastError != "" {
		lines = append(lines, styles.ErrorStyle.Render("error: "+s.LastError))
	}

	return styles.ListItemStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// FormatSize converts bytes into a human-readable string.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < 0 {
		return "Unknown"
	}
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	d := float64(bytes)
	exp := 0
	for d >= unit && exp < 6 {
		d /= unit
		exp++
	}
	prefixes := "KMGTPE"

	return fmt.Sprintf("%.1f %ciB", d, prefixes[exp-1])
}

// formatDuration returns a more user-friendly duration string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		m := d / time.Minute
		s := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm %ds", m, s)
	} else {
		h := d / time.Hour
		m := (d % time.Hour) / time.Minute
		return fmt.Sprintf("%dh %dm", h, m)
	}
}
