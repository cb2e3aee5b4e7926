// Package tui is the terminal front-end for the credential-entry state
// machine in internal/gui: it renders the machine's screens with
// bubbletea and translates key presses into machine inputs, so the
// terminal wizard and a device display drive the same flow. Submitted
// credentials go through Orchestrator.SubmitCredentials, the same path
// as the configuration page.
package tui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/picoprov/picoprov/internal/gui"
	"github.com/picoprov/picoprov/internal/provision"
	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/scanner"
)

type startDoneMsg struct {
	err error
}

type submitDoneMsg struct {
	err error
}

// credBox hands the machine's credential callback result back to the
// update-loop iteration that triggered it.
type credBox struct {
	mu   sync.Mutex
	ssid string
	psk  string
	set  bool
}

func (b *credBox) capture(ssid, password string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ssid, b.psk, b.set = ssid, password, true
}

func (b *credBox) take() (ssid, psk string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ssid, psk, ok = b.ssid, b.psk, b.set
	b.ssid, b.psk, b.set = "", "", false
	return ssid, psk, ok
}

// termDisplay implements the gui display contract over a snapshot that
// View renders. The machine redraws with Clear followed by the calls
// for its current screen, so the snapshot always reflects the last
// refresh.
type termDisplay struct {
	mu       sync.Mutex
	lines    []string
	networks []radio.ScanResult
	selected int
	ssid     string
	password string
}

func (d *termDisplay) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = nil
	d.networks = nil
	d.selected = 0
	d.ssid = ""
	d.password = ""
}

func (d *termDisplay) ShowText(line int, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.lines) <= line {
		d.lines = append(d.lines, "")
	}
	d.lines[line] = text
}

func (d *termDisplay) Update() {}

func (d *termDisplay) ShowNetworks(results []radio.ScanResult, selected int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.networks = append([]radio.ScanResult(nil), results...)
	d.selected = selected
}

func (d *termDisplay) ShowPasswordEntry(ssid, password string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ssid = ssid
	d.password = password
}

type displaySnapshot struct {
	networks []radio.ScanResult
	selected int
	ssid     string
	password string
}

func (d *termDisplay) snapshot() displaySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return displaySnapshot{
		networks: append([]radio.ScanResult(nil), d.networks...),
		selected: d.selected,
		ssid:     d.ssid,
		password: d.password,
	}
}

// listKeyMap defines key bindings for the network list screen.
type listKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Rescan key.Binding
	Quit   key.Binding
}

func (k listKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Select, k.Rescan, k.Quit}
}

func (k listKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Select, k.Rescan, k.Quit},
	}
}

func newListKeyMap() listKeyMap {
	return listKeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Select: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select"),
		),
		Rescan: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "rescan"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Model is the wizard's bubbletea model. All flow decisions live in
// the credential-entry machine; the model only translates keys in and
// screens out.
type Model struct {
	orch    *provision.Orchestrator
	machine *gui.Machine
	disp    *termDisplay
	box     *credBox

	lastErr error

	spin     spinner.Model
	help     help.Model
	listKeys listKeyMap
}

// NewModel wires a wizard around a fresh credential-entry machine.
func NewModel(orch *provision.Orchestrator, sc *scanner.Scanner) (Model, error) {
	disp := &termDisplay{}
	machine, err := gui.New(sc, disp)
	if err != nil {
		return Model{}, err
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		orch:     orch,
		machine:  machine,
		disp:     disp,
		box:      &credBox{},
		spin:     sp,
		help:     help.New(),
		listKeys: newListKeyMap(),
	}, nil
}

// Init starts the machine, which scans synchronously, and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.startCmd(), m.spin.Tick)
}

func (m Model) startCmd() tea.Cmd {
	return func() tea.Msg {
		return startDoneMsg{err: m.machine.Start(m.box.capture)}
	}
}

func (m Model) submitCmd(ssid, password string) tea.Cmd {
	return func() tea.Msg {
		return submitDoneMsg{err: m.orch.SubmitCredentials(ssid, password)}
	}
}

// submitIfCaptured turns a credential capture from the last machine
// input into the orchestrator submission command.
func (m Model) submitIfCaptured() tea.Cmd {
	ssid, psk, ok := m.box.take()
	if !ok {
		return nil
	}
	return tea.Batch(m.submitCmd(ssid, psk), m.spin.Tick)
}

// Update routes messages to the machine.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case startDoneMsg:
		m.lastErr = msg.err
		return m, nil

	case submitDoneMsg:
		m.lastErr = msg.err
		m.machine.SetOutcome(msg.err == nil)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	state := m.machine.State()

	// Global quit, except while typing a passphrase.
	if state != gui.StateEnterPassword && key.Matches(msg, m.listKeys.Quit) {
		m.machine.Stop()
		return m, tea.Quit
	}

	switch state {
	case gui.StateNetworkList:
		switch {
		case key.Matches(msg, m.listKeys.Up):
			m.machine.HandleInput(gui.InputUp, 0)
		case key.Matches(msg, m.listKeys.Down):
			m.machine.HandleInput(gui.InputDown, 0)
		case key.Matches(msg, m.listKeys.Rescan):
			return m, tea.Batch(m.startCmd(), m.spin.Tick)
		case key.Matches(msg, m.listKeys.Select):
			m.machine.HandleInput(gui.InputSelect, 0)
			return m, m.submitIfCaptured()
		}

	case gui.StateEnterPassword:
		switch msg.Type {
		case tea.KeyEnter:
			m.machine.HandleInput(gui.InputSelect, 0)
			return m, m.submitIfCaptured()
		case tea.KeyBackspace, tea.KeyEsc:
			m.machine.HandleInput(gui.InputBack, 0)
		case tea.KeyCtrlC:
			m.machine.Stop()
			return m, tea.Quit
		case tea.KeySpace:
			m.machine.HandleInput(gui.InputChar, ' ')
		case tea.KeyRunes:
			for _, ch := range msg.Runes {
				m.machine.HandleInput(gui.InputChar, ch)
			}
		}

	case gui.StateSuccess, gui.StateFailed:
		switch msg.String() {
		case "r":
			return m, tea.Batch(m.startCmd(), m.spin.Tick)
		case "enter", "q":
			return m, tea.Quit
		}
	}

	return m, nil
}

// View renders the machine's current screen.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(AppName))
	b.WriteString("\n")

	snap := m.disp.snapshot()

	switch m.machine.State() {
	case gui.StateIdle, gui.StateScanning:
		b.WriteString(fmt.Sprintf("%s Scanning for networks...\n", m.spin.View()))

	case gui.StateNetworkList:
		if len(snap.networks) == 0 {
			b.WriteString(SubtitleStyle.Render("No networks found."))
			b.WriteString("\n")
		} else {
			b.WriteString(SubtitleStyle.Render("Select a network:"))
			b.WriteString("\n\n")
			for i, n := range snap.networks {
				line := fmt.Sprintf("%s  %s %s",
					n.SSID,
					SignalStyle.Render(fmt.Sprintf("%d dBm", n.RSSI)),
					SecurityStyle.Render(n.Security.String()),
				)
				if i == snap.selected {
					b.WriteString(SelectedMenuItemStyle.Render("> " + line))
				} else {
					b.WriteString(MenuItemStyle.Render(line))
				}
				b.WriteString("\n")
			}
		}
		b.WriteString(HelpStyle.Render(m.help.View(m.listKeys)))

	case gui.StateEnterPassword:
		b.WriteString(fmt.Sprintf("Passphrase for %s:\n\n", snap.ssid))
		b.WriteString("> " + strings.Repeat("*", len([]rune(snap.password))))
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("enter: connect • backspace: delete/back"))

	case gui.StateConnecting:
		b.WriteString(fmt.Sprintf("%s Connecting to %s...\n", m.spin.View(), m.machine.SelectedSSID()))

	case gui.StateSuccess:
		b.WriteString(SuccessStyle.Render(fmt.Sprintf("Connected to %s", m.machine.SelectedSSID())))
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("enter: exit"))

	case gui.StateFailed:
		msg := "Something went wrong"
		if m.lastErr != nil {
			msg = m.lastErr.Error()
		}
		b.WriteString(ErrorStyle.Render(msg))
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("r: retry • q: quit"))
	}

	return b.String()
}

// Run starts the wizard and blocks until it exits.
func Run(orch *provision.Orchestrator, sc *scanner.Scanner) error {
	m, err := NewModel(orch, sc)
	if err != nil {
		return err
	}
	p := tea.NewProgram(m)
	_, err = p.Run()
	return err
}
