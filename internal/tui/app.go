// Package tui provides the interactive terminal dashboard for the market.
package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/computemarket/cmkt/internal/models"
)

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	taskItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

type viewMode string

const (
	modeList     viewMode = "list"
	modeDetail   viewMode = "detail"
	modeServices viewMode = "services"
	modeEscrow   viewMode = "escrow"
)

const (
	// refreshInterval is how often the open view reloads.
	refreshInterval = 2 * time.Second
	// recentEvents is how many events the escrow view shows.
	recentEvents = 10
)

// App is the main TUI application model.
type App struct {
	client       *Client
	tasks        []models.Task
	selectedIdx  int
	services     []models.Service
	serviceIdx   int
	escrow       *EscrowSummary
	events       []models.Event
	currentTask  *models.Task
	decisions    []models.PDREntry
	input        textinput.Model
	viewport     viewport.Model
	width        int
	height       int
	mode         viewMode
	message      string
	filterIdx    int
	loading      bool
	daemonOnline bool
	suggestions  *Suggestions
}

// New creates a new TUI application acting as principal.
func New(apiAddr, principal, token string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: buy <service> <payment> | start | complete [hash] | refund | / for commands"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	return &App{
		client:      NewClient(apiAddr, principal, token),
		input:       ti,
		viewport:    viewport.New(80, 20),
		mode:        modeList,
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchTasks(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		typing := a.input.Value() != ""

		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.mode != modeList {
				a.mode = modeList
				a.currentTask = nil
				return a, a.fetchTasks()
			}

		case "up", "k", "down", "j":
			key := msg.String()
			up := key == "up" || key == "k"
			if a.suggestions.IsVisible() {
				if up {
					a.suggestions.Prev()
				} else {
					a.suggestions.Next()
				}
				return a, nil
			}
			arrow := key == "up" || key == "down"
			if arrow || !typing {
				if up {
					a.moveSelection(-1)
				} else {
					a.moveSelection(1)
				}
				if !arrow {
					return a, nil
				}
			}

		case "tab":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			if a.mode == modeList {
				a.filterIdx = (a.filterIdx + 1) % len(statusFilters)
				return a, a.fetchTasks()
			}

		case "enter":
			if a.suggestions.IsVisible() {
				a.acceptSuggestion()
				return a, nil
			}
			cmd := strings.TrimSpace(a.input.Value())
			if cmd != "" {
				a.input.SetValue("")
				return a, a.executeCommand(cmd)
			}
			if a.mode == modeList && len(a.tasks) > 0 {
				a.mode = modeDetail
				return a, a.fetchTaskDetail(a.tasks[a.selectedIdx].TaskID)
			}

		case "ctrl+s":
			a.mode = modeServices
			return a, a.fetchServices()

		case "ctrl+e":
			a.mode = modeEscrow
			return a, a.fetchEscrow()

		case "ctrl+r":
			return a, a.refresh()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-10, 5)

	case tasksLoadedMsg:
		a.loading = false
		a.tasks = msg.tasks
		if a.selectedIdx >= len(a.tasks) {
			a.selectedIdx = max(0, len(a.tasks)-1)
		}

	case taskDetailLoadedMsg:
		a.currentTask = msg.task
		a.decisions = msg.decisions
		a.viewport.SetContent(a.renderTaskDetail())

	case servicesLoadedMsg:
		a.services = msg.services
		if a.serviceIdx >= len(a.services) {
			a.serviceIdx = max(0, len(a.services)-1)
		}

	case escrowLoadedMsg:
		a.escrow = msg.summary
		a.events = msg.events

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		// Schedule the next tick only after this refresh is issued.
		return a, tea.Batch(a.refresh(), a.checkDaemon(), a.tickCmd())

	case commandResultMsg:
		a.message = msg.message
		return a, a.refresh()

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	if a.mode == modeDetail {
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.suggestions.Update(a.input.Value())
	if strings.HasPrefix(a.input.Value(), "@") {
		taskIDs := make([]uint64, len(a.tasks))
		for i, t := range a.tasks {
			taskIDs[i] = t.TaskID
		}
		serviceIDs := make([]uint64, len(a.services))
		for i, s := range a.services {
			serviceIDs[i] = s.ServiceID
		}
		a.suggestions.SetReferences(taskIDs, serviceIDs)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) acceptSuggestion() {
	if selected := a.suggestions.Selected(); selected != nil {
		a.input.SetValue(selected.Text + " ")
		a.input.CursorEnd()
		a.suggestions.Update("")
	}
}

func (a *App) moveSelection(delta int) {
	switch a.mode {
	case modeList:
		a.selectedIdx = clamp(a.selectedIdx+delta, len(a.tasks))
	case modeServices:
		a.serviceIdx = clamp(a.serviceIdx+delta, len(a.services))
	}
}

func clamp(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	who := lipgloss.NewStyle().Foreground(mutedColor).Render("○ anonymous")
	if p := a.client.Principal(); p != "" {
		who = lipgloss.NewStyle().Foreground(successColor).Render("● " + p)
	}

	header := titleStyle.Render("CMKT Compute Market")
	header += "  " + daemonStatus
	header += "  " + who

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	contentHeight := max(a.height-8, 5)

	switch a.mode {
	case modeList:
		filterLabel := fmt.Sprintf(" Filter: [%s]", statusFilterNames[a.filterIdx])
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(filterLabel) + "\n")
		b.WriteString(a.renderTaskList(contentHeight - 1))
	case modeDetail:
		b.WriteString(a.viewport.View())
	case modeServices:
		b.WriteString(a.renderServices(contentHeight))
	case modeEscrow:
		b.WriteString(a.renderEscrow(contentHeight))
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case modeList:
		status = fmt.Sprintf(" Tasks: %d | ↑↓:nav | Enter:open | Tab:filter | ^S:services | ^E:escrow | ^R:refresh | Ctrl+C:quit", len(a.tasks))
	case modeServices:
		status = fmt.Sprintf(" Services: %d | ↑↓:nav | Esc:back | register/price/deactivate", len(a.services))
	case modeEscrow:
		status = " Escrow | Esc:back | !check to verify"
	default:
		status = " Esc:back | ↑↓:scroll | start | complete [hash] | refund"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

// --- Commands ---

func (a *App) refresh() tea.Cmd {
	switch a.mode {
	case modeDetail:
		if a.currentTask != nil {
			return a.fetchTaskDetail(a.currentTask.TaskID)
		}
	case modeServices:
		return a.fetchServices()
	case modeEscrow:
		return a.fetchEscrow()
	}
	return a.fetchTasks()
}

func (a *App) fetchTasks() tea.Cmd {
	a.loading = len(a.tasks) == 0
	filter := statusFilters[a.filterIdx]
	return func() tea.Msg {
		tasks, err := a.client.ListTasks(filter)
		if err != nil {
			return errMsg{err}
		}
		return tasksLoadedMsg{tasks}
	}
}

func (a *App) fetchTaskDetail(id uint64) tea.Cmd {
	return func() tea.Msg {
		task, err := a.client.GetTask(id)
		if err != nil {
			return errMsg{err}
		}
		decisions, _ := a.client.GetTaskDecisions(id)
		return taskDetailLoadedMsg{task, decisions}
	}
}

func (a *App) fetchServices() tea.Cmd {
	return func() tea.Msg {
		services, err := a.client.ListServices()
		if err != nil {
			return errMsg{err}
		}
		return servicesLoadedMsg{services}
	}
}

func (a *App) fetchEscrow() tea.Cmd {
	var after uint64
	if n := len(a.events); n > 0 && a.events[n-1].Seq > recentEvents {
		after = a.events[n-1].Seq - recentEvents
	}
	return func() tea.Msg {
		summary, err := a.client.Escrow()
		if err != nil {
			return errMsg{err}
		}
		events, _ := a.client.RecentEvents(after, recentEvents)
		return escrowLoadedMsg{summary, events}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// selectedTaskID returns the task the next lifecycle command applies to.
func (a *App) selectedTaskID() (uint64, bool) {
	if a.mode == modeDetail && a.currentTask != nil {
		return a.currentTask.TaskID, true
	}
	if a.mode == modeList && len(a.tasks) > 0 {
		return a.tasks[a.selectedIdx].TaskID, true
	}
	return 0, false
}

// parseRef accepts "7", "task-7" or "@service-7".
func parseRef(arg string) (uint64, error) {
	arg = strings.TrimPrefix(arg, "@")
	if i := strings.LastIndexByte(arg, '-'); i >= 0 {
		arg = arg[i+1:]
	}
	return strconv.ParseUint(arg, 10, 64)
}

func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(strings.TrimLeft(input, "/!"))
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	// Resolve the target task before the command runs off the UI goroutine.
	taskID, haveTask := a.selectedTaskID()
	if len(args) > 0 && (cmd == "start" || cmd == "refund") {
		id, err := parseRef(args[0])
		if err != nil {
			return result("Error: invalid task id " + args[0])
		}
		taskID, haveTask = id, true
	}

	switch cmd {
	case "services":
		a.mode = modeServices
		return a.fetchServices()
	case "escrow", "check":
		a.mode = modeEscrow
		return a.fetchEscrow()
	case "refresh":
		return a.refresh()
	case "all", "created", "running", "completed", "refunded":
		for i, f := range statusFilters {
			if f == cmd || (cmd == "all" && f == "") {
				a.filterIdx = i
			}
		}
		a.mode = modeList
		return a.fetchTasks()
	case "q", "quit", "exit":
		return tea.Quit
	}

	return func() tea.Msg {
		switch cmd {
		case "buy":
			if len(args) < 2 {
				return commandResultMsg{"Usage: buy <service> <payment>"}
			}
			serviceID, err := parseRef(args[0])
			if err != nil {
				return commandResultMsg{"Error: invalid service id " + args[0]}
			}
			task, err := a.client.Buy(serviceID, args[1])
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Bought task %d for %s", task.TaskID, task.Amount)}

		case "start":
			if !haveTask {
				return commandResultMsg{"No task selected"}
			}
			if _, err := a.client.StartTask(taskID); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Task %d running", taskID)}

		case "complete":
			if !haveTask {
				return commandResultMsg{"No task selected"}
			}
			hash := strings.Join(args, " ")
			task, err := a.client.CompleteTask(taskID, hash)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Task %d completed, %s released", taskID, task.Amount)}

		case "refund":
			if !haveTask {
				return commandResultMsg{"No task selected"}
			}
			task, err := a.client.RefundTask(taskID)
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Task %d refunded %s to %s", taskID, task.Amount, task.Buyer)}

		case "register", "price":
			if len(args) < 2 {
				return commandResultMsg{fmt.Sprintf("Usage: %s <service> <price>", cmd)}
			}
			id, err := parseRef(args[0])
			if err != nil {
				return commandResultMsg{"Error: invalid service id " + args[0]}
			}
			var svc *models.Service
			if cmd == "register" {
				svc, err = a.client.RegisterService(id, args[1])
			} else {
				svc, err = a.client.UpdatePrice(id, args[1])
			}
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Service %d priced at %s", svc.ServiceID, svc.Price)}

		case "deactivate":
			if len(args) < 1 {
				return commandResultMsg{"Usage: deactivate <service>"}
			}
			id, err := parseRef(args[0])
			if err != nil {
				return commandResultMsg{"Error: invalid service id " + args[0]}
			}
			if err := a.client.Deactivate(id); err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Service %d deactivated", id)}

		case "whoami":
			if a.client.Principal() == "" {
				return commandResultMsg{"Acting anonymously. Use 'cmkt login --as <principal>'."}
			}
			return commandResultMsg{"Acting as " + a.client.Principal()}

		default:
			return commandResultMsg{fmt.Sprintf("Unknown: %s (try: buy, start, complete, refund, /)", cmd)}
		}
	}
}

func result(message string) tea.Cmd {
	return func() tea.Msg { return commandResultMsg{message} }
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type tasksLoadedMsg struct {
	tasks []models.Task
}

type taskDetailLoadedMsg struct {
	task      *models.Task
	decisions []models.PDREntry
}

type servicesLoadedMsg struct {
	services []models.Service
}

type escrowLoadedMsg struct {
	summary *EscrowSummary
	events  []models.Event
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time
