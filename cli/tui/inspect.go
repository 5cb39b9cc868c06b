package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/quarrio/quarry/cli/reader"
)

// InspectModel is the Bubble Tea model behind every inspect view.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel builds a model for one view type and payload.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{viewType: viewType, data: data}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_run":
		content = m.renderRun()
	case "inspect_job":
		content = m.renderJob()
	case "inspect_task":
		content = m.renderTask()
	case "inspect_proxy":
		content = m.renderProxy()
	case "inspect_executor":
		content = m.renderExecutor()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	return content + "\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
}

// field renders one "Label: value" line with plain value styling.
func field(label, value string) string {
	return fmt.Sprintf("%s %s\n", LabelStyle.Render(label+":"), ValueStyle.Render(value))
}

// stateField renders the state line with state-dependent coloring.
func stateField(label, state string) string {
	return fmt.Sprintf("%s %s\n", LabelStyle.Render(label+":"), StateStyle(state).Render(state))
}

func (m InspectModel) renderRun() string {
	data, ok := m.data.(*reader.InspectRunResponse)
	if !ok {
		return "Invalid data type for inspect_run"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run Details"))
	b.WriteString("\n\n")
	b.WriteString(field("Run ID", data.RunID))
	b.WriteString(field("Job ID", data.JobID))
	b.WriteString(stateField("State", data.State))
	b.WriteString(field("Attempt", fmt.Sprintf("%d", data.Attempt)))
	b.WriteString(field("Policy", data.Policy))
	b.WriteString(field("Started At", data.StartedAt.Format("2006-01-02 15:04:05")))
	if data.ParentRun != nil {
		b.WriteString(field("Parent Run", *data.ParentRun))
	}
	if data.EndedAt != nil {
		b.WriteString(field("Ended At", data.EndedAt.Format("2006-01-02 15:04:05")))
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderJob() string {
	data, ok := m.data.(*reader.InspectJobResponse)
	if !ok {
		return "Invalid data type for inspect_job"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Job Details"))
	b.WriteString("\n\n")
	b.WriteString(field("Job ID", data.JobID))
	b.WriteString(stateField("State", data.State))
	b.WriteString(field("Runs", fmt.Sprintf("%d", len(data.RunIDs))))

	if len(data.RunIDs) > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Run IDs:\n"))
		for _, runID := range data.RunIDs {
			b.WriteString(fmt.Sprintf("  • %s\n", ValueStyle.Render(runID)))
		}
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderTask() string {
	data, ok := m.data.(*reader.InspectTaskResponse)
	if !ok {
		return "Invalid data type for inspect_task"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Task Details"))
	b.WriteString("\n\n")
	b.WriteString(field("Task ID", data.TaskID))
	b.WriteString(stateField("State", data.State))
	if data.RunID != nil {
		b.WriteString(field("Run ID", *data.RunID))
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderProxy() string {
	data, ok := m.data.(*reader.InspectProxyPoolResponse)
	if !ok {
		return "Invalid data type for inspect_proxy"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Proxy Pool Details"))
	b.WriteString("\n\n")
	b.WriteString(field("Name", data.Name))
	b.WriteString(field("Strategy", data.Strategy))
	b.WriteString(field("Endpoints", fmt.Sprintf("%d", data.EndpointCnt)))

	if data.Sticky != nil {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Sticky Config"))
		b.WriteString("\n")
		b.WriteString(field("  Scope", data.Sticky.Scope))
		if data.Sticky.TTLMs != nil {
			b.WriteString(field("  TTL", fmt.Sprintf("%dms", *data.Sticky.TTLMs)))
		}
	}

	b.WriteString("\n")
	b.WriteString(TitleStyle.Render("Runtime State"))
	b.WriteString("\n")
	b.WriteString(field("  RR Index", fmt.Sprintf("%d", data.Runtime.RoundRobinIndex)))
	b.WriteString(field("  Sticky", fmt.Sprintf("%d entries", data.Runtime.StickyEntries)))
	if data.Runtime.RecencyWindow > 0 {
		b.WriteString(field("  Recency", fmt.Sprintf("%d/%d slots", data.Runtime.RecencyFill, data.Runtime.RecencyWindow)))
	}
	if data.Runtime.LastUsedAt != nil {
		b.WriteString(field("  Last Used", data.Runtime.LastUsedAt.Format("2006-01-02 15:04:05")))
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderExecutor() string {
	data, ok := m.data.(*reader.InspectExecutorResponse)
	if !ok {
		return "Invalid data type for inspect_executor"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Executor Details"))
	b.WriteString("\n\n")
	b.WriteString(field("Executor ID", data.ExecutorID))
	b.WriteString(stateField("State", data.State))
	if data.LastSeenAt != nil {
		b.WriteString(field("Last Seen", data.LastSeenAt.Format("2006-01-02 15:04:05")))
	}

	return BoxStyle.Render(b.String())
}

// keyMap holds the shared key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect program in the alt screen.
func RunInspectTUI(viewType string, data any) error {
	p := tea.NewProgram(NewInspectModel(viewType, data), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders the view once, without the interactive
// program, as a fallback.
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
