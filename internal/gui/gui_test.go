package gui

import (
	"strings"
	"testing"

	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/radio/fake"
	"github.com/picoprov/picoprov/internal/scanner"
)

// textDisplay is the minimal line-oriented display. It records every
// ShowText call since the last Clear.
type textDisplay struct {
	lines   map[int]string
	updates int
}

func newTextDisplay() *textDisplay {
	return &textDisplay{lines: make(map[int]string)}
}

func (d *textDisplay) Clear() { d.lines = make(map[int]string) }
func (d *textDisplay) ShowText(line int, s string) { d.lines[line] = s }
func (d *textDisplay) Update() { d.updates++ }

// richTestDisplay additionally implements RichDisplay and records the
// rich calls.
type richTestDisplay struct {
	textDisplay
	networks      []radio.ScanResult
	selected      int
	passwordSSID  string
	passwordShown string
}

func (d *richTestDisplay) ShowNetworks(results []radio.ScanResult, selected int) {
	d.networks = results
	d.selected = selected
}

func (d *richTestDisplay) ShowPasswordEntry(ssid, password string) {
	d.passwordSSID = ssid
	d.passwordShown = password
}

type capturedCreds struct {
	ssid     string
	password string
	called   bool
}

func startedMachine(t *testing.T, display Display, networks []radio.ScanResult) (*Machine, *capturedCreds) {
	t.Helper()

	r := fake.New()
	r.ScanNetworks = networks
	sc := scanner.New(r)
	t.Cleanup(sc.Close)

	m, err := New(sc, display)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	creds := &capturedCreds{}
	if err := m.Start(func(ssid, password string) {
		creds.ssid = ssid
		creds.password = password
		creds.called = true
	}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return m, creds
}

func testNetworks() []radio.ScanResult {
	return []radio.ScanResult{
		{SSID: "Open Cafe", RSSI: -50, Channel: 1, Security: radio.SecurityOpen},
		{SSID: "HomeNet", RSSI: -42, Channel: 6, Security: radio.SecurityPSK},
		{SSID: "Lab", RSSI: -70, Channel: 11, Security: radio.SecuritySAE},
	}
}

func TestStartScansToNetworkList(t *testing.T) {
	display := newTextDisplay()
	m, _ := startedMachine(t, display, testNetworks())

	if got := m.State(); got != StateNetworkList {
		t.Fatalf("State() = %v, want NetworkList", got)
	}
	if !strings.Contains(display.lines[0], "Open Cafe") {
		t.Errorf("line 0 = %q, want network list entry", display.lines[0])
	}
	if !strings.HasPrefix(display.lines[0], ">") {
		t.Errorf("line 0 = %q, want selection marker on first entry", display.lines[0])
	}
}

func TestStartScanFailure(t *testing.T) {
	display := newTextDisplay()
	r := fake.New()
	r.Device = ""
	sc := scanner.New(r)
	t.Cleanup(sc.Close)

	m, err := New(sc, display)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Start(nil); err == nil {
		t.Fatal("Start() error = nil, want scan failure")
	}
	if got := m.State(); got != StateFailed {
		t.Errorf("State() = %v, want Failed", got)
	}
}

// TestOpenNetworkSelectSkipsPasswordEntry verifies selecting an open
// network goes straight to Connecting with an empty password.
func TestOpenNetworkSelectSkipsPasswordEntry(t *testing.T) {
	m, creds := startedMachine(t, newTextDisplay(), testNetworks())

	m.HandleInput(InputSelect, 0)

	if got := m.State(); got != StateConnecting {
		t.Fatalf("State() = %v, want Connecting", got)
	}
	if !creds.called {
		t.Fatal("credential callback not invoked")
	}
	if creds.ssid != "Open Cafe" || creds.password != "" {
		t.Errorf("callback got (%q, %q), want (Open Cafe, \"\")", creds.ssid, creds.password)
	}
}

func TestSecuredNetworkPasswordFlow(t *testing.T) {
	m, creds := startedMachine(t, newTextDisplay(), testNetworks())

	m.HandleInput(InputDown, 0)
	m.HandleInput(InputSelect, 0)
	if got := m.State(); got != StateEnterPassword {
		t.Fatalf("State() after secured Select = %v, want EnterPassword", got)
	}
	if creds.called {
		t.Fatal("callback invoked before password entry")
	}

	for _, ch := range "hunter22" {
		m.HandleInput(InputChar, ch)
	}
	m.HandleInput(InputSelect, 0)

	if got := m.State(); got != StateConnecting {
		t.Fatalf("State() after submit = %v, want Connecting", got)
	}
	if creds.ssid != "HomeNet" || creds.password != "hunter22" {
		t.Errorf("callback got (%q, %q), want (HomeNet, hunter22)", creds.ssid, creds.password)
	}
}

func TestPasswordBackspace(t *testing.T) {
	m, creds := startedMachine(t, newTextDisplay(), testNetworks())

	m.HandleInput(InputDown, 0)
	m.HandleInput(InputSelect, 0)
	m.HandleInput(InputChar, 'a')
	m.HandleInput(InputChar, 'b')
	m.HandleInput(InputBack, 0)
	m.HandleInput(InputSelect, 0)

	if creds.password != "a" {
		t.Errorf("password = %q, want %q", creds.password, "a")
	}
}

// TestBackOnEmptyBufferReturnsToList verifies abandoning entry keeps
// the recorded SSID intact.
func TestBackOnEmptyBufferReturnsToList(t *testing.T) {
	m, creds := startedMachine(t, newTextDisplay(), testNetworks())

	m.HandleInput(InputDown, 0)
	m.HandleInput(InputSelect, 0)
	m.HandleInput(InputBack, 0)

	if got := m.State(); got != StateNetworkList {
		t.Fatalf("State() = %v, want NetworkList", got)
	}
	if got := m.SelectedSSID(); got != "HomeNet" {
		t.Errorf("SelectedSSID() = %q, want HomeNet", got)
	}
	if creds.called {
		t.Error("callback invoked on abandoned entry")
	}
}

func TestPasswordCapacity(t *testing.T) {
	m, creds := startedMachine(t, newTextDisplay(), testNetworks())

	m.HandleInput(InputDown, 0)
	m.HandleInput(InputSelect, 0)
	for i := 0; i < 70; i++ {
		m.HandleInput(InputChar, 'x')
	}
	m.HandleInput(InputSelect, 0)

	if got := len(creds.password); got != radio.MaxPassphraseLen {
		t.Errorf("password length = %d, want %d", got, radio.MaxPassphraseLen)
	}
}

func TestSelectionBounds(t *testing.T) {
	display := &richTestDisplay{textDisplay: *newTextDisplay()}
	m, _ := startedMachine(t, display, testNetworks())

	// Up at the top stays put.
	m.HandleInput(InputUp, 0)
	if display.selected != 0 {
		t.Errorf("selected after Up at top = %d, want 0", display.selected)
	}

	// Down clamps at the last entry.
	for i := 0; i < 5; i++ {
		m.HandleInput(InputDown, 0)
	}
	if display.selected != 2 {
		t.Errorf("selected after repeated Down = %d, want 2", display.selected)
	}
}

func TestRichDisplayPreferred(t *testing.T) {
	display := &richTestDisplay{textDisplay: *newTextDisplay()}
	m, _ := startedMachine(t, display, testNetworks())

	if len(display.networks) != 3 {
		t.Fatalf("ShowNetworks results = %d, want 3", len(display.networks))
	}

	m.HandleInput(InputDown, 0)
	m.HandleInput(InputSelect, 0)
	m.HandleInput(InputChar, 's')
	if display.passwordSSID != "HomeNet" || display.passwordShown != "s" {
		t.Errorf("ShowPasswordEntry got (%q, %q), want (HomeNet, s)",
			display.passwordSSID, display.passwordShown)
	}
}

func TestSetOutcome(t *testing.T) {
	m, _ := startedMachine(t, newTextDisplay(), testNetworks())

	// Ignored outside Connecting.
	m.SetOutcome(true)
	if got := m.State(); got != StateNetworkList {
		t.Fatalf("State() = %v, want NetworkList", got)
	}

	m.HandleInput(InputSelect, 0)
	m.SetOutcome(true)
	if got := m.State(); got != StateSuccess {
		t.Errorf("State() = %v, want Success", got)
	}
}

func TestStopClearsToIdle(t *testing.T) {
	display := newTextDisplay()
	m, _ := startedMachine(t, display, testNetworks())

	m.Stop()
	if got := m.State(); got != StateIdle {
		t.Errorf("State() = %v, want Idle", got)
	}
	if len(display.lines) != 0 {
		t.Errorf("display not cleared: %v", display.lines)
	}
}
