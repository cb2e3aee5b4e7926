// Package fake provides a scripted in-memory radio driver for tests.
//
// The driver replays configured outcomes and delivers every event from a
// dedicated goroutine, reproducing the platform behavior where scan and
// connect results arrive on a notification context distinct from the
// caller's. Tests configure it per scenario:
//
//	r := fake.New()
//	r.ScanNetworks = []radio.ScanResult{{SSID: "Home", RSSI: -40}}
//	r.ConnectStatus = 0
package fake

import (
	"sync"
	"time"

	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/wifierr"
)

// Radio is a scripted radio driver.
type Radio struct {
	mu     sync.Mutex
	subs   map[int]radio.Handler
	nextID int

	// Device simulates interface presence. When empty, DeviceName
	// reports NoDevice.
	Device string

	// EventDelay is inserted before each delivered event to let callers
	// observe intermediate states.
	EventDelay time.Duration

	// ScanNetworks are replayed as ScanResultEvents, then ScanDone.
	ScanNetworks []radio.ScanResult
	// ScanStatus is the ScanDoneEvent status (0 = success).
	ScanStatus int
	// ScanTriggerErr, when set, is returned synchronously by TriggerScan.
	ScanTriggerErr error
	// MuteScanDone suppresses the completion event so timeout paths can
	// be exercised.
	MuteScanDone bool

	// APEnableErr, when set, is returned synchronously by EnableAP.
	APEnableErr error
	// APEnableStatus is delivered in the asynchronous APEnableResult.
	APEnableStatus int
	// MuteAPResult suppresses the enable/disable result events.
	MuteAPResult bool

	// ConnectErr, when set, is returned synchronously by Connect.
	ConnectErr error
	// ConnectStatus is delivered in the asynchronous ConnectResult.
	ConnectStatus int
	// MuteConnectResult suppresses the connect result event.
	MuteConnectResult bool

	// Recorded requests, guarded by mu.
	ScanCalls       int
	EnableAPCalls   []radio.APParams
	DisableAPCalls  int
	ConnectCalls    []ConnectCall
	DisconnectCalls int
}

// ConnectCall records one station connect request.
type ConnectCall struct {
	SSID       string
	Passphrase string
	Security   radio.SecurityType
}

// New returns a fake radio with a present device and success outcomes.
func New() *Radio {
	return &Radio{
		subs:   make(map[int]radio.Handler),
		Device: "wlan0",
	}
}

// DeviceName implements radio.Radio.
func (r *Radio) DeviceName() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Device == "" {
		return "", wifierr.New(wifierr.KindNoDevice, "no wireless interface")
	}
	return r.Device, nil
}

// TriggerScan implements radio.Radio.
func (r *Radio) TriggerScan() error {
	r.mu.Lock()
	r.ScanCalls++
	err := r.ScanTriggerErr
	networks := append([]radio.ScanResult(nil), r.ScanNetworks...)
	status := r.ScanStatus
	mute := r.MuteScanDone
	r.mu.Unlock()

	if err != nil {
		return err
	}

	go func() {
		for _, n := range networks {
			r.deliver(radio.ScanResultEvent{Result: n})
		}
		if !mute {
			r.deliver(radio.ScanDoneEvent{Status: status})
		}
	}()
	return nil
}

// EnableAP implements radio.Radio.
func (r *Radio) EnableAP(params radio.APParams) error {
	r.mu.Lock()
	r.EnableAPCalls = append(r.EnableAPCalls, params)
	err := r.APEnableErr
	status := r.APEnableStatus
	mute := r.MuteAPResult
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if !mute {
		go r.deliver(radio.APEnableResult{Status: status})
	}
	return nil
}

// DisableAP implements radio.Radio.
func (r *Radio) DisableAP() error {
	r.mu.Lock()
	r.DisableAPCalls++
	mute := r.MuteAPResult
	r.mu.Unlock()

	if !mute {
		go r.deliver(radio.APDisableResult{})
	}
	return nil
}

// Connect implements radio.Radio.
func (r *Radio) Connect(ssid, passphrase string, security radio.SecurityType) error {
	r.mu.Lock()
	r.ConnectCalls = append(r.ConnectCalls, ConnectCall{SSID: ssid, Passphrase: passphrase, Security: security})
	err := r.ConnectErr
	status := r.ConnectStatus
	mute := r.MuteConnectResult
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if !mute {
		go r.deliver(radio.ConnectResult{Status: status})
	}
	return nil
}

// Disconnect implements radio.Radio.
func (r *Radio) Disconnect() error {
	r.mu.Lock()
	r.DisconnectCalls++
	r.mu.Unlock()
	return nil
}

// Subscribe implements radio.Radio.
func (r *Radio) Subscribe(h radio.Handler) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = h
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Emit delivers an arbitrary event to subscribers, for tests that drive
// the notification stream by hand.
func (r *Radio) Emit(ev radio.Event) {
	r.deliver(ev)
}

func (r *Radio) deliver(ev radio.Event) {
	r.mu.Lock()
	delay := r.EventDelay
	handlers := make([]radio.Handler, 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	for _, h := range handlers {
		h(ev)
	}
}
