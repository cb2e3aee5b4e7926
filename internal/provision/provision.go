// Package provision coordinates the credential lifecycle: it decides at
// startup whether to auto-connect with stored credentials or open a
// provisioning surface, wires the scanner, access point, and
// configuration server together, and turns a submitted credential pair
// into a persisted, connected network.
package provision

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/picoprov/picoprov/internal/httpcfg"
	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/scanner"
	"github.com/picoprov/picoprov/internal/softap"
	"github.com/picoprov/picoprov/internal/store"
	"github.com/picoprov/picoprov/internal/wifierr"
)

const (
	// DefaultConnectTimeout bounds a station connection attempt.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultSettleDelay is the pause between tearing down AP mode and
	// issuing the station connect, giving the radio time to release the
	// AP interface.
	DefaultSettleDelay = 2 * time.Second
)

// State is the orchestrator lifecycle state.
type State int

const (
	// StateNoCredentials means no usable credentials are stored.
	StateNoCredentials State = iota
	// StateProvisioning means the provisioning surface is up.
	StateProvisioning
	// StateConnecting means a station connection is in flight.
	StateConnecting
	// StateConnected means the device joined the target network.
	StateConnected
	// StateFailed means the last connection attempt failed.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNoCredentials:
		return "NoCredentials"
	case StateProvisioning:
		return "Provisioning"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// FailurePolicy selects what happens when the connection attempt made
// right after a credential submission fails.
type FailurePolicy int

const (
	// PolicyStayManual leaves the orchestrator in Failed; recovery is
	// driven through the CLI or the display flow.
	PolicyStayManual FailurePolicy = iota
	// PolicyReProvision re-opens the provisioning surface so the user
	// can correct the credentials.
	PolicyReProvision
)

// Config holds orchestrator settings. Zero values select defaults.
type Config struct {
	ConnectTimeout time.Duration
	SettleDelay    time.Duration
	ScanTimeout    time.Duration
	Policy         FailurePolicy

	// DisableStatusServer skips re-opening the configuration page after
	// a successful boot-time connection. By default the page comes back
	// up so the network list stays reachable for re-configuration.
	DisableStatusServer bool
}

// Status is a point-in-time snapshot for operator surfaces.
type Status struct {
	State       State
	SSID        string
	BootCount   uint32
	APState     softap.State
	ServerState httpcfg.State
	Degraded    bool
}

// Orchestrator owns the provisioning lifecycle. One instance per
// process; it serializes access to the AP controller and the
// configuration server.
type Orchestrator struct {
	mu  sync.Mutex
	cfg Config

	r      radio.Radio
	sc     *scanner.Scanner
	ap     *softap.Controller
	srv    *httpcfg.Server
	st     *store.Store
	cancel func()

	state    State
	target   string
	degraded bool

	// connDone is the oneshot for the in-flight connect attempt.
	connDone chan int
}

// New wires an orchestrator from its collaborators.
func New(r radio.Radio, sc *scanner.Scanner, ap *softap.Controller,
	srv *httpcfg.Server, st *store.Store, cfg Config) *Orchestrator {

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = scanner.DefaultTimeout
	}

	o := &Orchestrator{
		cfg:   cfg,
		r:     r,
		sc:    sc,
		ap:    ap,
		srv:   srv,
		st:    st,
		state: StateNoCredentials,
	}
	o.cancel = r.Subscribe(o.handleEvent)
	return o
}

// Close unsubscribes from radio events.
func (o *Orchestrator) Close() {
	if o.cancel != nil {
		o.cancel()
	}
}

// State returns the current orchestrator state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Target returns the SSID of the current or last connection target.
func (o *Orchestrator) Target() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.target
}

// Degraded reports whether provisioning is running without a network
// surface (AP mode unavailable).
func (o *Orchestrator) Degraded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.degraded
}

// Snapshot returns the operator-facing status.
func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:       o.state,
		SSID:        o.target,
		BootCount:   o.st.BootCount(),
		APState:     o.ap.State(),
		ServerState: o.srv.State(),
		Degraded:    o.degraded,
	}
}

// Run is the boot entry point: bump the boot counter, then either
// auto-connect with stored credentials or open the provisioning
// surface. It returns once the device is Connected, Provisioning, or
// Failed; subsequent activity is event-driven.
func (o *Orchestrator) Run() error {
	count, err := o.st.IncrementBootCount()
	if err != nil {
		logging.Warn("Boot counter update failed", zap.Error(err))
	} else {
		logging.Info("Boot", zap.Uint32("boot_count", count))
	}

	ssid, psk, ok := o.st.Credentials()
	if !ok {
		logging.Info("No stored credentials, entering provisioning")
		o.setState(StateNoCredentials)
		return o.StartProvisioning()
	}

	logging.Info("Stored credentials found, connecting", logging.SSID(ssid))
	if err := o.Connect(ssid, psk); err != nil {
		logging.Warn("Boot-time connection failed, entering provisioning",
			logging.SSID(ssid), zap.Error(err))
		return o.StartProvisioning()
	}

	if !o.cfg.DisableStatusServer {
		if err := o.srv.Start(o.credentialsReceived); err != nil {
			logging.Warn("Status page unavailable", zap.Error(err))
		}
	}
	return nil
}

// StartProvisioning runs a best-effort scan, brings up the access
// point, and starts the configuration server. An Unavailable AP is not
// fatal: the orchestrator stays in Provisioning with no network
// surface, and credentials arrive through the CLI or the display flow.
func (o *Orchestrator) StartProvisioning() error {
	o.mu.Lock()
	if o.state == StateProvisioning {
		o.mu.Unlock()
		return wifierr.New(wifierr.KindAlreadyActive, "provisioning already active")
	}
	o.mu.Unlock()

	// Scan first so the configuration page has networks to show.
	// Failures are logged, not fatal: an empty list still provisions.
	if err := o.sc.Scan(o.cfg.ScanTimeout); err != nil {
		logging.Warn("Provisioning scan failed", zap.Error(err))
	} else {
		_, n := o.sc.Results()
		logging.Info("Provisioning scan complete", zap.Int("networks", n))
	}

	if err := o.ap.Start(); err != nil {
		logging.Error("Access point unavailable", zap.Error(err))
		logging.Info("Set credentials manually with 'picoprovd set' or the device display")
		o.mu.Lock()
		o.degraded = true
		o.mu.Unlock()
		o.setState(StateProvisioning)
		return nil
	}

	if err := o.srv.Start(o.credentialsReceived); err != nil {
		logging.Error("Config server failed to start", zap.Error(err))
		o.mu.Lock()
		o.degraded = true
		o.mu.Unlock()
	} else {
		o.mu.Lock()
		o.degraded = false
		o.mu.Unlock()
	}

	o.setState(StateProvisioning)
	return nil
}

// StopProvisioning tears down the configuration server and the access
// point. Components that are not running are skipped.
func (o *Orchestrator) StopProvisioning() {
	if o.srv.State() == httpcfg.StateRunning {
		if err := o.srv.Stop(); err != nil {
			logging.Warn("Config server stop failed", zap.Error(err))
		}
	}
	if o.ap.State() == softap.StateActive {
		if err := o.ap.Stop(); err != nil {
			logging.Warn("Access point stop failed", zap.Error(err))
		}
	}
}

// credentialsReceived is the submission callback shared by the
// configuration server and the display flow. Teardown and the connect
// attempt run in their own goroutine: the server invokes this from its
// serve context, which Stop would otherwise join against.
func (o *Orchestrator) credentialsReceived(ssid, password string) {
	go func() {
		if err := o.SubmitCredentials(ssid, password); err != nil {
			logging.Error("Credential submission failed",
				logging.SSID(ssid), zap.Error(err))
		}
	}()
}

// SubmitCredentials persists a validated credential pair, tears down
// the provisioning surface, waits for the radio to settle, and attempts
// the station connection. Post-failure behavior follows the configured
// FailurePolicy.
func (o *Orchestrator) SubmitCredentials(ssid, password string) error {
	if err := o.st.SetCredentials(ssid, password); err != nil {
		return err
	}

	o.StopProvisioning()

	logging.Info("Waiting for radio to settle",
		zap.Duration("delay", o.cfg.SettleDelay))
	time.Sleep(o.cfg.SettleDelay)

	err := o.Connect(ssid, password)
	if err == nil {
		return nil
	}

	if o.cfg.Policy == PolicyReProvision {
		logging.Warn("Connection failed, re-opening provisioning",
			logging.SSID(ssid), zap.Error(err))
		o.ap.Reset()
		if perr := o.StartProvisioning(); perr != nil {
			logging.Error("Re-provisioning failed", zap.Error(perr))
		}
		return err
	}

	logging.Warn("Connection failed; use the CLI or display to retry",
		logging.SSID(ssid), zap.Error(err))
	return err
}

// Connect issues a station connection and blocks until the radio
// reports a result or the configured timeout expires. Busy when a
// connect is already in flight.
func (o *Orchestrator) Connect(ssid, psk string) error {
	security := radio.SecurityPSK
	if psk == "" {
		security = radio.SecurityOpen
	}

	o.mu.Lock()
	if o.connDone != nil {
		o.mu.Unlock()
		return wifierr.New(wifierr.KindBusy, "connection attempt already in progress")
	}
	done := make(chan int, 1)
	o.connDone = done
	o.target = ssid
	o.mu.Unlock()

	o.setState(StateConnecting)
	logging.Info("Connecting", logging.SSID(ssid),
		zap.String("security", security.String()))

	if err := o.r.Connect(ssid, psk, security); err != nil {
		o.clearConnDone()
		o.setState(StateFailed)
		return err
	}

	select {
	case status := <-done:
		o.clearConnDone()
		if status != 0 {
			o.setState(StateFailed)
			return wifierr.WithStatus(wifierr.KindIO, "connection failed", status)
		}
		o.setState(StateConnected)
		logging.Info("Connected", logging.SSID(ssid))
		return nil

	case <-time.After(o.cfg.ConnectTimeout):
		o.clearConnDone()
		o.setState(StateFailed)
		return wifierr.Newf(wifierr.KindTimeout,
			"connection to %q timed out after %s", ssid, o.cfg.ConnectTimeout)
	}
}

func (o *Orchestrator) clearConnDone() {
	o.mu.Lock()
	o.connDone = nil
	o.mu.Unlock()
}

func (o *Orchestrator) setState(next State) {
	o.mu.Lock()
	if o.state != next {
		logging.LogStateChange("provision", o.state.String(), next.String())
		o.state = next
	}
	o.mu.Unlock()
}

// handleEvent resolves the in-flight connect rendezvous and tracks
// unsolicited disconnects.
func (o *Orchestrator) handleEvent(ev radio.Event) {
	switch e := ev.(type) {
	case radio.ConnectResult:
		o.mu.Lock()
		done := o.connDone
		o.mu.Unlock()
		if done != nil {
			select {
			case done <- e.Status:
			default:
			}
		}

	case radio.DisconnectEvent:
		o.mu.Lock()
		wasConnected := o.state == StateConnected
		o.mu.Unlock()
		if wasConnected {
			logging.Warn("Disconnected from network",
				zap.Int("status", e.Status))
			o.setState(StateFailed)
		}
	}
}
