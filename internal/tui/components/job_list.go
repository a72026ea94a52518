package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/NamanBalaji/tfm/internal/engine"
	"github.com/NamanBalaji/tfm/internal/tui/styles"
)

// RenderJobList renders every job followed by a count footer.
func RenderJobList(jobs []engine.Summary, width int) string {
	if len(jobs) == 0 {
		return renderEmptyView()
	}

	rows := make([]string, 0, len(jobs)+1)
	for _, j := range jobs {
		rows = append(rows, JobItem(j, width), "")
	}

	rows = append(rows, styles.FooterStyle.Render(fmt.Sprintf("%d job(s)", len(jobs))))

	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// RenderJobStatus renders one job with its file count and per-file errors.
func RenderJobStatus(st *engine.JobStatus, width int) string {
	lines := []string{
		JobItem(st.Summary, width),
		styles.ListItemStyle.Render(fmt.Sprintf("%s %d  %s %s  %s %s",
			styles.LabelStyle.Render("files:"), st.Files,
			styles.LabelStyle.Render("created:"), st.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			styles.LabelStyle.Render("updated:"), st.UpdatedAt.Local().Format("2006-01-02 15:04:05"))),
	}

	if len(st.FileErrors) > 0 {
		lines = append(lines, styles.ListItemStyle.Render(styles.TitleStyle.Render("File errors")))

		for _, fe := range st.FileErrors {
			lines = append(lines, styles.ListItemStyle.Render(
				fmt.Sprintf("%s: %s", fe.Source, styles.ErrorStyle.Render(fe.Err))))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderEmptyView displays the logo and instructions when there are no jobs.
func renderEmptyView() string {
	logo := []string{
		"████████╗███████╗███╗   ███╗",
		"╚══██╔══╝██╔════╝████╗ ████║",
		"   ██║   █████╗  ██╔████╔██║",
		"   ██║   ██╔══╝  ██║╚██╔╝██║",
		"   ██║   ██║     ██║ ╚═╝ ██║",
		"   ╚═╝   ╚═╝     ╚═╝     ╚═╝",
	}
	colors := []lipgloss.Color{
		styles.Blue, styles.Mauve, styles.Red,
		styles.Peach, styles.Yellow, styles.Green,
	}

	var lines []string

	for i, line := range logo {
		lines = append(lines, lipgloss.NewStyle().Foreground(colors[i]).Render(line))
	}

	subtitle := lipgloss.NewStyle().Foreground(styles.Text).Italic(true).Render("Transfer File Manager")
	instruction := styles.HintStyle.Render("No jobs. Start one with 'tfm put' or 'tfm get'.")

	content := lipgloss.JoinVertical(lipgloss.Center, lines...)

	return lipgloss.JoinVertical(lipgloss.Center, content, "", subtitle, "", instruction)
}
