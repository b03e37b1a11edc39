package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/cemconv/cemrelease/lode"
	"github.com/cemconv/cemrelease/runtime"
)

// ReportModel is a Bubble Tea model for browsing the jobs of a run report
// or ledger job records. The selected row's details are shown below the list.
type ReportModel struct {
	viewType string
	data     any
	cursor   int
	width    int
	height   int
	quitting bool
}

// NewReportModel creates a new report model.
func NewReportModel(viewType string, data any) ReportModel {
	return ReportModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m ReportModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < m.rows()-1 {
				m.cursor++
			}
		}
	}

	return m, nil
}

// Cursor returns the index of the selected row.
func (m ReportModel) Cursor() int {
	return m.cursor
}

func (m ReportModel) rows() int {
	switch data := m.data.(type) {
	case *runtime.RunReport:
		if data != nil {
			return len(data.Jobs)
		}
	case []lode.JobRecord:
		return len(data)
	}
	return 0
}

// View implements tea.Model.
func (m ReportModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewReportRun:
		content = m.renderRun()
	case ViewReportJobs:
		content = m.renderJobs()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("↑/↓ select • q quit")
	return content + "\n" + help
}

func (m ReportModel) renderRun() string {
	data, ok := m.data.(*runtime.RunReport)
	if !ok || data == nil {
		return "Invalid data type for report_run"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Release Run: %s", data.RunID)))
	b.WriteString("\n")

	tag := data.Tag
	if tag == "" {
		tag = "(untagged)"
	}
	b.WriteString(field("Crate", data.Crate))
	b.WriteString(field("Tag", tag))
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Outcome:"), StateStyle(data.Outcome).Render(data.Outcome)))
	b.WriteString(field("Exit Code", fmt.Sprintf("%d", data.ExitCode)))
	b.WriteString(field("Duration", (time.Duration(data.DurationMs) * time.Millisecond).String()))
	if data.NotifyError != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Notify:"), ErrorStyle.Render(data.NotifyError)))
	} else if data.Notified {
		b.WriteString(field("Notify", "sent"))
	}
	b.WriteString("\n")

	for i, job := range data.Jobs {
		b.WriteString(m.row(i, job.Target, string(job.Status), job.ExitCode))
	}

	if m.cursor < len(data.Jobs) {
		b.WriteString("\n")
		b.WriteString(BoxStyle.Render(renderReportJob(data.Jobs[m.cursor])))
	}
	return b.String()
}

func (m ReportModel) renderJobs() string {
	data, ok := m.data.([]lode.JobRecord)
	if !ok {
		return "Invalid data type for report_jobs"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Ledger Jobs (%d)", len(data))))
	b.WriteString("\n")
	if len(data) == 0 {
		b.WriteString(MutedStyle.Render("no job records"))
		return b.String()
	}

	for i, rec := range data {
		b.WriteString(m.row(i, rec.RunID+"  "+rec.Key(), rec.Status, rec.ExitCode))
	}

	if m.cursor < len(data) {
		rec := data[m.cursor]
		var d strings.Builder
		d.WriteString(field("Run", rec.RunID))
		d.WriteString(field("Tag", rec.Tag))
		d.WriteString(field("Target", rec.Key()))
		d.WriteString(field("OS", rec.OS))
		d.WriteString(field("Tests", rec.TestOutcome))
		if rec.ErrorKind != "" {
			d.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Error:"), ErrorStyle.Render(rec.ErrorKind)))
		}
		d.WriteString(field("Artifact", rec.Artifact))
		d.WriteString(field("SHA-256", rec.SHA256))
		d.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Publish:"), StateStyle(rec.PublishPhase).Render(rec.PublishPhase)))
		if !rec.CompletedAt.IsZero() {
			d.WriteString(field("Completed", rec.CompletedAt.Format("2006-01-02 15:04:05")))
		}
		b.WriteString("\n")
		b.WriteString(BoxStyle.Render(strings.TrimRight(d.String(), "\n")))
	}
	return b.String()
}

func (m ReportModel) row(i int, label, status string, exitCode int) string {
	marker := "  "
	style := ValueStyle
	if i == m.cursor {
		marker = "> "
		style = SelectedStyle
	}
	line := fmt.Sprintf("%s%-48s %s", marker, style.Render(label), StateStyle(status).Render(status))
	if exitCode != 0 {
		line += MutedStyle.Render(fmt.Sprintf(" (exit %d)", exitCode))
	}
	return line + "\n"
}

func renderReportJob(job runtime.ReportJob) string {
	var b strings.Builder
	b.WriteString(field("Target", job.Target))
	if job.TestOutcome != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Tests:"), StateStyle(string(job.TestOutcome)).Render(string(job.TestOutcome))))
	}
	for _, st := range job.Stages {
		status := StateStyle(string(st.Status)).Render(string(st.Status))
		line := fmt.Sprintf("%s %s", LabelStyle.Render(string(st.Stage)+":"), status)
		if st.Message != "" {
			line += " " + MutedStyle.Render(st.Message)
		}
		b.WriteString(line + "\n")
	}
	if job.Artifact != nil {
		b.WriteString(field("Artifact", job.Artifact.Name))
		b.WriteString(field("SHA-256", job.Artifact.SHA256))
	}
	if job.Publish != nil {
		phase := string(job.Publish.Phase)
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Publish:"), StateStyle(phase).Render(phase)))
		if job.Publish.URL != "" {
			b.WriteString(field("URL", job.Publish.URL))
		}
	}
	if job.Message != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Error:"), ErrorStyle.Render(job.Message)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func field(label, value string) string {
	if value == "" {
		value = "-"
	}
	return fmt.Sprintf("%s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
}
