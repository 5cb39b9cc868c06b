package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quarrio/quarry/cli/reader"
)

// StatsModel is the Bubble Tea model behind every stats view.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel builds a model for one view type and payload.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{viewType: viewType, data: data}
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

	var content string
	switch m.viewType {
	case "stats_runs":
		content = m.renderRunStats()
	case "stats_jobs":
		content = m.renderJobStats()
	case "stats_tasks":
		content = m.renderTaskStats()
	case "stats_proxies":
		content = m.renderProxyStats()
	case "stats_executors":
		content = m.renderExecutorStats()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	return content + "\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
}

// statTile is one colored value/label box in a stats row.
type statTile struct {
	label string
	value int
	color lipgloss.Color
}

// tileRow renders a titled horizontal row of stat tiles.
func tileRow(title string, tiles []statTile) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(title))
	b.WriteString("\n\n")

	boxes := make([]string, 0, len(tiles))
	for _, tile := range tiles {
		boxes = append(boxes, renderTile(tile))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	return b.String()
}

func renderTile(tile statTile) string {
	value := StatValueStyle.Foreground(tile.color).Render(fmt.Sprintf("%d", tile.value))
	label := StatLabelStyle.Render(tile.label)
	return StatBoxStyle.BorderForeground(tile.color).Render(
		lipgloss.JoinVertical(lipgloss.Center, value, label))
}

func (m StatsModel) renderRunStats() string {
	data, ok := m.data.(*reader.RunStats)
	if !ok {
		return "Invalid data type for stats_runs"
	}
	return tileRow("Run Statistics", []statTile{
		{"Total", data.Total, highlightColor},
		{"Running", data.Running, warningColor},
		{"Succeeded", data.Succeeded, successColor},
		{"Failed", data.Failed, errorColor},
	})
}

func (m StatsModel) renderJobStats() string {
	data, ok := m.data.(*reader.JobStats)
	if !ok {
		return "Invalid data type for stats_jobs"
	}
	return tileRow("Job Statistics", []statTile{
		{"Total", data.Total, highlightColor},
		{"Running", data.Running, warningColor},
		{"Succeeded", data.Succeeded, successColor},
		{"Failed", data.Failed, errorColor},
	})
}

func (m StatsModel) renderTaskStats() string {
	data, ok := m.data.(*reader.TaskStats)
	if !ok {
		return "Invalid data type for stats_tasks"
	}
	return tileRow("Task Statistics", []statTile{
		{"Total", data.Total, highlightColor},
		{"Running", data.Running, warningColor},
		{"Succeeded", data.Succeeded, successColor},
		{"Failed", data.Failed, errorColor},
	})
}

func (m StatsModel) renderExecutorStats() string {
	data, ok := m.data.(*reader.ExecutorStats)
	if !ok {
		return "Invalid data type for stats_executors"
	}
	return tileRow("Executor Statistics", []statTile{
		{"Total", data.Total, highlightColor},
		{"Running", data.Running, warningColor},
		{"Idle", data.Idle, successColor},
		{"Failed", data.Failed, errorColor},
	})
}

func (m StatsModel) renderProxyStats() string {
	data, ok := m.data.([]reader.ProxyStats)
	if !ok {
		return "Invalid data type for stats_proxies"
	}

	poolTitle := lipgloss.NewStyle().Bold(true).Foreground(highlightColor)

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Proxy Statistics"))
	b.WriteString("\n\n")

	for i, proxy := range data {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(poolTitle.Render(fmt.Sprintf("Pool: %s", proxy.Pool)))
		b.WriteString("\n")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			renderTile(statTile{"Requests", proxy.Requests, highlightColor}),
			renderTile(statTile{"Failures", proxy.Failures, errorColor}),
		))
		if proxy.LastUsedAt != nil {
			b.WriteString("\n")
			b.WriteString(fmt.Sprintf("%s %s",
				LabelStyle.Render("Last Used:"),
				ValueStyle.Render(proxy.LastUsedAt.Format("2006-01-02 15:04:05"))))
		}
	}

	return b.String()
}

// RunStatsTUI runs the stats program in the alt screen.
func RunStatsTUI(viewType string, data any) error {
	p := tea.NewProgram(NewStatsModel(viewType, data), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders the view once, without the interactive
// program, as a fallback.
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
