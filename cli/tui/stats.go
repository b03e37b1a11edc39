package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cemconv/cemrelease/metrics"
)

// StatsModel is a Bubble Tea model for a run's metrics snapshot.
type StatsModel struct {
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(data any) StatsModel {
	return StatsModel{data: data}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return m.renderMetrics() + "\n" + help
}

func (m StatsModel) renderMetrics() string {
	data, ok := m.data.(*metrics.Snapshot)
	if !ok || data == nil {
		return "Invalid data type for report_metrics"
	}

	var b strings.Builder
	title := fmt.Sprintf("Run Metrics: %s", data.RunID)
	if data.Tag != "" {
		title += " (" + data.Tag + ")"
	}
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Started", data.JobsStarted, highlightColor),
		renderStatBox("Succeeded", data.JobsSucceeded, successColor),
		renderStatBox("Failed", data.JobsFailed, errorColor),
		renderStatBox("Canceled", data.JobsCanceled, warningColor),
	))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Tests Passed", data.TestsPassed, successColor),
		renderStatBox("Tests Failed", data.TestsFailed, errorColor),
		renderStatBox("Tests Skipped", data.TestsSkipped, mutedColor),
	))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		renderStatBox("Packaged", data.ArtifactsPackaged, highlightColor),
		renderStatBox("Published", data.Published, successColor),
		renderStatBox("Already There", data.AlreadyPublished, warningColor),
		renderStatBox("Upload Failed", data.PublishFailed, errorColor),
	))

	if len(data.StageFailures) > 0 {
		stages := make([]string, 0, len(data.StageFailures))
		for s := range data.StageFailures {
			stages = append(stages, s)
		}
		sort.Strings(stages)

		b.WriteString("\n\n")
		b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(highlightColor).Render("Failures by stage"))
		b.WriteString("\n")
		for _, s := range stages {
			b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(s+":"), ErrorStyle.Render(fmt.Sprintf("%d", data.StageFailures[s]))))
		}
	}

	b.WriteString("\n")
	b.WriteString(field("Bytes Uploaded", fmt.Sprintf("%d", data.BytesUploaded)))
	b.WriteString(field("Isolation", data.Isolation))
	b.WriteString(field("Backend", data.ReleaseBackend))
	if data.IPCDecodeErrors > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("IPC Errors:"), WarningStyle.Render(fmt.Sprintf("%d", data.IPCDecodeErrors))))
	}
	if data.LedgerWriteFailure > 0 {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Ledger Errors:"), WarningStyle.Render(fmt.Sprintf("%d", data.LedgerWriteFailure))))
	}

	return strings.TrimRight(b.String(), "\n")
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}
