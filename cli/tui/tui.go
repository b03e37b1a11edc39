package tui

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// View types that support TUI mode.
const (
	ViewReportRun     = "report_run"
	ViewReportJobs    = "report_jobs"
	ViewReportMetrics = "report_metrics"
)

// Run starts the TUI for the view type.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	var model tea.Model
	if viewType == ViewReportMetrics {
		model = NewStatsModel(data)
	} else {
		model = NewReportModel(viewType, data)
	}
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// RenderStatic renders a view once without an interactive program.
func RenderStatic(viewType string, data any) (string, error) {
	if !IsTUISupported(viewType) {
		return "", fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	var view string
	if viewType == ViewReportMetrics {
		view = NewStatsModel(data).View()
	} else {
		view = NewReportModel(viewType, data).View()
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(view), nil
}

// IsTUISupported returns true if the view type supports TUI mode.
// Only report views do.
func IsTUISupported(viewType string) bool {
	return strings.HasPrefix(viewType, "report_") && slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewReportRun, ViewReportJobs, ViewReportMetrics}
}

// keyMap defines key bindings.
type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Quit key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}
