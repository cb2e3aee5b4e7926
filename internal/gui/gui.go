// Package gui implements the display-driven credential entry flow for
// devices with a local display and buttons. It is display-agnostic: the
// host supplies a Display (and optionally a RichDisplay) and feeds input
// events; the machine drives the screens and fires the credential
// callback when the user completes entry.
package gui

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/scanner"
	"github.com/picoprov/picoprov/internal/wifierr"
)

// State is the credential-entry machine state.
type State int

const (
	// StateIdle means the machine is not active.
	StateIdle State = iota
	// StateScanning means a network scan is in progress.
	StateScanning
	// StateNetworkList means discovered networks are being shown.
	StateNetworkList
	// StateEnterPassword means a passphrase is being composed.
	StateEnterPassword
	// StateConnecting means credentials were submitted.
	StateConnecting
	// StateSuccess means the submitted network was joined.
	StateSuccess
	// StateFailed means scanning or joining failed.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateNetworkList:
		return "NetworkList"
	case StateEnterPassword:
		return "EnterPassword"
	case StateConnecting:
		return "Connecting"
	case StateSuccess:
		return "Success"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Input is a discrete user input event.
type Input int

const (
	// InputUp navigates up in the network list.
	InputUp Input = iota
	// InputDown navigates down in the network list.
	InputDown
	// InputSelect confirms the current selection or entry.
	InputSelect
	// InputBack deletes a character or abandons entry.
	InputBack
	// InputChar appends a character during passphrase entry.
	InputChar
)

// Display is the minimal line-oriented output surface every host must
// provide.
type Display interface {
	Clear()
	ShowText(line int, text string)
	Update()
}

// RichDisplay is an optional extension for hosts that can render the
// network list and password screens natively. The machine degrades to
// ShowText when the Display does not implement it.
type RichDisplay interface {
	ShowNetworks(results []radio.ScanResult, selected int)
	ShowPasswordEntry(ssid, password string)
}

// CredentialsFunc is invoked when the user completes credential entry.
type CredentialsFunc func(ssid, password string)

// Machine is the credential-entry state machine. One session at a time;
// selection index and password buffer are reset by Start.
type Machine struct {
	mu       sync.Mutex
	sc       *scanner.Scanner
	display  Display
	creds    CredentialsFunc
	state    State
	selected int
	ssid     string
	password []rune
}

// New creates an idle machine bound to a scanner and display.
func New(sc *scanner.Scanner, display Display) (*Machine, error) {
	if sc == nil || display == nil {
		return nil, wifierr.New(wifierr.KindInvalidArgument, "scanner and display are required")
	}
	return &Machine{
		sc:      sc,
		display: display,
		state:   StateIdle,
	}, nil
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SelectedSSID returns the SSID recorded by the last Select on the
// network list, or empty when none has been chosen this session.
func (m *Machine) SelectedSSID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ssid
}

// Start resets session state, shows a scanning indicator, runs a
// synchronous scan, and moves to the network list. On scan failure the
// machine lands in Failed and the error is returned.
func (m *Machine) Start(cb CredentialsFunc) error {
	m.mu.Lock()
	m.creds = cb
	m.selected = 0
	m.ssid = ""
	m.password = m.password[:0]
	m.setStateLocked(StateScanning)
	m.mu.Unlock()
	m.Refresh()

	logging.Info("Credential entry started, scanning")
	if err := m.sc.Scan(scanner.DefaultTimeout); err != nil {
		logging.Error("Scan for credential entry failed", zap.Error(err))
		m.mu.Lock()
		m.setStateLocked(StateFailed)
		m.mu.Unlock()
		m.Refresh()
		return err
	}

	m.mu.Lock()
	m.setStateLocked(StateNetworkList)
	m.mu.Unlock()
	m.Refresh()
	return nil
}

// Stop returns the machine to Idle and clears the display.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	m.display.Clear()
	m.display.Update()
	logging.Info("Credential entry stopped")
}

// SetOutcome resolves the Connecting state once the join attempt
// finishes. Ignored in any other state.
func (m *Machine) SetOutcome(connected bool) {
	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	if connected {
		m.setStateLocked(StateSuccess)
	} else {
		m.setStateLocked(StateFailed)
	}
	m.mu.Unlock()
	m.Refresh()
}

// HandleInput processes one input event. Events that do not apply in
// the current state are ignored.
func (m *Machine) HandleInput(input Input, ch rune) {
	m.mu.Lock()

	refresh := false
	var submit func()

	switch m.state {
	case StateNetworkList:
		results, count := m.sc.Results()

		switch input {
		case InputUp:
			if m.selected > 0 {
				m.selected--
				refresh = true
			}
		case InputDown:
			if m.selected < count-1 {
				m.selected++
				refresh = true
			}
		case InputSelect:
			if m.selected < count {
				picked := results[m.selected]
				m.ssid = picked.SSID
				m.password = m.password[:0]
				if picked.Security == radio.SecurityOpen {
					// Open network: submit immediately with no password.
					submit = m.submitLocked()
					m.setStateLocked(StateConnecting)
				} else {
					m.setStateLocked(StateEnterPassword)
				}
				refresh = true
			}
		}

	case StateEnterPassword:
		switch input {
		case InputChar:
			if ch != 0 && len(m.password) < radio.MaxPassphraseLen {
				m.password = append(m.password, ch)
				refresh = true
			}
		case InputBack:
			if len(m.password) > 0 {
				m.password = m.password[:len(m.password)-1]
			} else {
				m.setStateLocked(StateNetworkList)
			}
			refresh = true
		case InputSelect:
			submit = m.submitLocked()
			m.setStateLocked(StateConnecting)
			refresh = true
		}
	}

	m.mu.Unlock()

	if submit != nil {
		submit()
	}
	if refresh {
		m.Refresh()
	}
}

// submitLocked captures the current selection for callback delivery
// outside the lock. Caller holds m.mu.
func (m *Machine) submitLocked() func() {
	cb := m.creds
	if cb == nil {
		return func() {}
	}
	ssid := m.ssid
	password := string(m.password)
	return func() {
		logging.Info("Credentials entered", logging.SSID(ssid))
		cb(ssid, password)
	}
}

func (m *Machine) setStateLocked(next State) {
	if m.state != next {
		logging.LogStateChange("gui", m.state.String(), next.String())
		m.state = next
	}
}

// Refresh redraws the display for the current state, preferring the
// rich surfaces when the display supports them.
func (m *Machine) Refresh() {
	m.mu.Lock()
	state := m.state
	selected := m.selected
	ssid := m.ssid
	password := string(m.password)
	m.mu.Unlock()

	rich, hasRich := m.display.(RichDisplay)

	m.display.Clear()

	switch state {
	case StateScanning:
		m.display.ShowText(0, "WiFi Setup")
		m.display.ShowText(1, "Scanning...")

	case StateNetworkList:
		results, count := m.sc.Results()
		if hasRich && count > 0 {
			rich.ShowNetworks(results, selected)
		} else if count > 0 {
			m.showNetworkLines(results, selected)
		} else {
			m.display.ShowText(0, "No networks found")
			m.display.ShowText(1, "Press BACK to rescan")
		}

	case StateEnterPassword:
		if hasRich {
			rich.ShowPasswordEntry(ssid, password)
		} else {
			m.display.ShowText(0, "SSID: "+ssid)
			m.display.ShowText(1, "Password: "+password+"_")
		}

	case StateConnecting:
		m.display.ShowText(0, "Connecting...")
		m.display.ShowText(1, ssid)

	case StateSuccess:
		m.display.ShowText(0, "Connected!")
		m.display.ShowText(1, ssid)

	case StateFailed:
		m.display.ShowText(0, "Connection failed")
		m.display.ShowText(1, "Press BACK to retry")
	}

	m.display.Update()
}

// showNetworkLines is the line-oriented fallback for the network list:
// one row per network with a selection marker.
func (m *Machine) showNetworkLines(results []radio.ScanResult, selected int) {
	for i, r := range results {
		marker := " "
		if i == selected {
			marker = ">"
		}
		m.display.ShowText(i, fmt.Sprintf("%s%s (%d dBm)", marker, r.SSID, r.RSSI))
	}
}
