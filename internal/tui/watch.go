package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/btgate/internal/client"
	"github.com/muurk/btgate/internal/discovery"
	"github.com/muurk/btgate/internal/gateway"
	"github.com/muurk/btgate/internal/notify"
)

// Messages delivered to the model
type (
	eventMsg notify.Event

	feedStateMsg struct {
		state client.FeedState
		err   error
	}

	snapshotMsg struct {
		status    *gateway.Status
		devices   []notify.DeviceInfo
		endpoints []notify.DeviceEndpoints
		err       error
	}

	feedDoneMsg struct{ err error }
)

// watchKeyMap defines key bindings for the watch screen
type watchKeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Refresh, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Refresh, k.Quit},
	}
}

func newWatchKeyMap() watchKeyMap {
	return watchKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "move up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "move down"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// deviceRow is one line of the device table.
type deviceRow struct {
	address       string
	name          string
	authenticated bool
	endpoints     int
}

// eventLine is one entry of the recent events list.
type eventLine struct {
	at   time.Time
	kind notify.Kind
	text string
}

// WatchModel is the live registry view of one gateway.
type WatchModel struct {
	Target string

	fetch snapshotFunc

	State   client.FeedState
	Err     error
	Fatal   error
	Status  *gateway.Status
	devices map[string]*deviceRow
	recent  []eventLine

	Width   int
	Height  int
	Table   table.Model
	Spinner spinner.Model
	Help    help.Model
	Keys    watchKeyMap
}

type snapshotFunc func() tea.Msg

// NewWatchModel creates the watch screen for the gateway at target. fetch
// loads a full snapshot; it runs at start, on refresh and after reconnects.
func NewWatchModel(target string, fetch snapshotFunc) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = ReconnectingStyle

	t := table.New(
		table.WithColumns(deviceColumns(MinTerminalWidth)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(tableStyles())

	return WatchModel{
		Target:  target,
		fetch:   fetch,
		State:   client.FeedConnecting,
		devices: make(map[string]*deviceRow),
		Width:   MinTerminalWidth,
		Table:   t,
		Spinner: s,
		Help:    help.New(),
		Keys:    newWatchKeyMap(),
	}
}

func deviceColumns(width int) []table.Column {
	// Address and the two flag columns are fixed; the name takes the rest.
	name := width - 14 - 6 - 10 - 8
	if name < 12 {
		name = 12
	}
	return []table.Column{
		{Title: "Address", Width: 14},
		{Title: "Name", Width: name},
		{Title: "Auth", Width: 6},
		{Title: "Endpoints", Width: 10},
	}
}

// Init initializes the watch model
func (m WatchModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.Spinner.Tick}
	if m.fetch != nil {
		cmds = append(cmds, tea.Cmd(m.fetch))
	}
	return tea.Batch(cmds...)
}

// Update handles messages and updates the model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.Keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.Keys.Refresh):
			if m.fetch != nil {
				return m, tea.Cmd(m.fetch)
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.Width = clampWidth(msg.Width)
		m.Height = msg.Height
		m.Table.SetColumns(deviceColumns(m.Width - 2))
		m.Table.SetWidth(m.Width - 2)
		if h := msg.Height - maxRecentEvents - 10; h > 3 {
			m.Table.SetHeight(h)
		}
		return m, nil

	case feedStateMsg:
		m.State = msg.state
		m.Err = msg.err
		if msg.state == client.FeedConnected && m.fetch != nil {
			// Events may have been missed while disconnected.
			return m, tea.Batch(tea.Cmd(m.fetch), m.Spinner.Tick)
		}
		return m, m.Spinner.Tick

	case feedDoneMsg:
		m.Err = msg.err
		m.Fatal = msg.err
		return m, tea.Quit

	case snapshotMsg:
		if msg.err != nil {
			m.Err = msg.err
			return m, nil
		}
		m.applySnapshot(msg)
		return m, nil

	case eventMsg:
		m.applyEvent(notify.Event(msg))
		return m, nil

	case spinner.TickMsg:
		if m.State == client.FeedConnected {
			return m, nil
		}
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func (m *WatchModel) applySnapshot(s snapshotMsg) {
	m.Status = s.status
	m.devices = make(map[string]*deviceRow, len(s.devices))
	for _, d := range s.devices {
		m.devices[d.Address] = &deviceRow{address: d.Address, name: d.Name, authenticated: d.Authenticated}
	}
	for _, set := range s.endpoints {
		if row, ok := m.devices[set.Address]; ok {
			row.endpoints = len(set.Endpoints)
		}
	}
	m.Err = nil
	m.refreshRows()
}

func (m *WatchModel) applyEvent(e notify.Event) {
	line := eventLine{at: e.Time, kind: e.Kind}
	switch e.Kind {
	case notify.KindArrival:
		authenticated := false
		if _, ok := e.Properties[discovery.PropFleetEntry]; ok {
			authenticated = true
		}
		m.devices[e.Address] = &deviceRow{address: e.Address, name: e.Name, authenticated: authenticated}
		line.text = deviceLabel(e.Address, e.Name) + " arrived"
	case notify.KindDeparture:
		label := e.Address
		if row, ok := m.devices[e.Address]; ok {
			label = deviceLabel(row.address, row.name)
		}
		delete(m.devices, e.Address)
		line.text = label + " departed"
	case notify.KindEndpoints:
		if row, ok := m.devices[e.Address]; ok {
			row.endpoints = len(e.Endpoints)
		}
		line.text = fmt.Sprintf("%s has %d endpoint(s)", e.Address, len(e.Endpoints))
	default:
		return
	}

	m.recent = append(m.recent, line)
	if len(m.recent) > maxRecentEvents {
		m.recent = m.recent[len(m.recent)-maxRecentEvents:]
	}
	m.refreshRows()
}

func deviceLabel(address, name string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s (%s)", address, name)
}

func (m *WatchModel) refreshRows() {
	addrs := make([]string, 0, len(m.devices))
	for a := range m.devices {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	rows := make([]table.Row, 0, len(addrs))
	for _, a := range addrs {
		d := m.devices[a]
		auth := "no"
		if d.authenticated {
			auth = "yes"
		}
		rows = append(rows, table.Row{d.address, d.name, auth, fmt.Sprint(d.endpoints)})
	}
	m.Table.SetRows(rows)
}

// DeviceCount returns the number of devices shown.
func (m WatchModel) DeviceCount() int {
	return len(m.devices)
}

// View renders the watch screen
func (m WatchModel) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("btgate watch"))
	b.WriteString(SubtitleStyle.Render(m.Target))
	b.WriteString("  ")
	b.WriteString(m.stateView())
	b.WriteString("\n")

	if m.Status != nil {
		b.WriteString(SubtitleStyle.Render(fmt.Sprintf("stack %s · running %v · %d device(s) · %d endpoint(s)",
			m.Status.Stack, m.Status.Running, m.Status.Devices, m.Status.Endpoints)))
		b.WriteString("\n")
	}

	b.WriteString(SectionStyle.Render("Devices"))
	b.WriteString("\n")
	if len(m.devices) == 0 {
		b.WriteString(EmptyStyle.Render("no devices registered"))
	} else {
		b.WriteString(BoxStyle.Render(m.Table.View()))
	}
	b.WriteString("\n")

	b.WriteString(SectionStyle.Render("Recent events"))
	b.WriteString("\n")
	if len(m.recent) == 0 {
		b.WriteString(EmptyStyle.Render("waiting for events"))
		b.WriteString("\n")
	}
	for i := len(m.recent) - 1; i >= 0; i-- {
		e := m.recent[i]
		b.WriteString("  ")
		b.WriteString(EventTimeStyle.Render(e.at.Local().Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(eventStyle(e.kind).Render(e.text))
		b.WriteString("\n")
	}

	if m.Err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorMessageStyle.Render("  " + client.ShortMessage(m.Err)))
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render(m.Help.View(m.Keys)))
	return lipgloss.NewStyle().MaxWidth(m.Width).Render(b.String())
}

func (m WatchModel) stateView() string {
	switch m.State {
	case client.FeedConnected:
		return ConnectedStyle.Render("● connected")
	case client.FeedReconnecting:
		return m.Spinner.View() + ReconnectingStyle.Render(" reconnecting")
	default:
		return m.Spinner.View() + ReconnectingStyle.Render(" connecting")
	}
}

func eventStyle(k notify.Kind) lipgloss.Style {
	switch k {
	case notify.KindArrival:
		return ArrivalStyle
	case notify.KindDeparture:
		return DepartureStyle
	default:
		return EndpointsStyle
	}
}

// Run shows the watch screen for the gateway behind c until the user quits
// or ctx ends.
func Run(ctx context.Context, c *client.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewWatchModel(c.BaseURL, snapshotLoader(ctx, c))
	model.Width, model.Height = GetTerminalSize()
	model.Table.SetColumns(deviceColumns(model.Width - 2))
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		err := c.Watch(ctx, client.FeedHandler{
			Event: func(e notify.Event) { p.Send(eventMsg(e)) },
			State: func(s client.FeedState, err error) { p.Send(feedStateMsg{state: s, err: err}) },
		})
		if err != nil {
			p.Send(feedDoneMsg{err: err})
		}
	}()

	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("watch UI failed: %w", err)
	}
	if m, ok := final.(WatchModel); ok && m.Fatal != nil {
		return m.Fatal
	}
	return nil
}

// snapshotLoader fetches status, devices and endpoints in one message.
func snapshotLoader(ctx context.Context, c *client.Client) snapshotFunc {
	return func() tea.Msg {
		st, err := c.Status(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		devices, err := c.Devices(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		endpoints, err := c.Endpoints(ctx)
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{status: st, devices: devices, endpoints: endpoints}
	}
}
