package scanner

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/wifierr"
)

// MaxResults is the capacity of the scan result buffer. Results past this
// limit are dropped, not buffered elsewhere.
const MaxResults = 32

// DefaultTimeout bounds a scan when the caller passes zero.
const DefaultTimeout = 10 * time.Second

// State is the scanner lifecycle state.
type State int

const (
	// StateIdle means no scan has run or the last one was consumed.
	StateIdle State = iota
	// StateScanning means a scan is in flight. Exactly one scan may be
	// in flight; concurrent calls fail fast with Busy.
	StateScanning
	// StateComplete means the last scan finished successfully.
	StateComplete
	// StateFailed means the last scan failed or timed out.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Scanner collects bounded scan results from the radio's asynchronous
// notification stream and exposes them behind a blocking Scan call.
// All shared state is mutex-guarded because result events arrive on the
// driver's notification goroutine while Results is read elsewhere.
type Scanner struct {
	mu      sync.Mutex
	r       radio.Radio
	state   State
	results []radio.ScanResult
	status  int      // platform status of the last completed scan
	done    chan int // one-shot rendezvous owned by the in-flight scan
	stale   int      // completion events still owed by timed-out scans
	cancel  func()
}

// New creates a scanner and subscribes it to the radio's scan events.
func New(r radio.Radio) *Scanner {
	s := &Scanner{
		r:       r,
		state:   StateIdle,
		results: make([]radio.ScanResult, 0, MaxResults),
	}
	s.cancel = r.Subscribe(s.handleEvent)
	logging.Debug("Scanner initialized")
	return s
}

// Close unsubscribes the scanner from radio events.
func (s *Scanner) Close() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Scan performs a blocking scan bounded by timeout (zero means the 10s
// default). It fails fast with Busy while a scan is in flight, leaving
// prior results untouched, and with NoDevice when no wireless interface
// exists. A nonzero platform completion status or an expired timeout
// leaves the scanner Failed and is returned as an error.
func (s *Scanner) Scan(timeout time.Duration) error {
	s.mu.Lock()
	if s.state == StateScanning {
		s.mu.Unlock()
		logging.Warn("Scan already in progress")
		return wifierr.New(wifierr.KindBusy, "scan already in progress")
	}

	if _, err := s.r.DeviceName(); err != nil {
		s.mu.Unlock()
		logging.Error("No network interface for scan", zap.Error(err))
		return err
	}

	// Clear previous results and arm a fresh rendezvous. The channel is
	// per-scan so a stale completion can never satisfy a later call.
	s.results = s.results[:0]
	s.status = 0
	s.state = StateScanning
	done := make(chan int, 1)
	s.done = done
	s.mu.Unlock()

	logging.Info("Starting WiFi scan")

	if err := s.r.TriggerScan(); err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		logging.Error("Failed to start WiFi scan", zap.Error(err))
		return err
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	select {
	case status := <-done:
		if status != 0 {
			return wifierr.WithStatus(wifierr.KindIO, "scan failed", status)
		}
		return nil
	case <-time.After(timeout):
		s.mu.Lock()
		if s.done == nil {
			// Completion won the race with the timer; honor it.
			s.mu.Unlock()
			if status := <-done; status != 0 {
				return wifierr.WithStatus(wifierr.KindIO, "scan failed", status)
			}
			return nil
		}
		// The platform still owes this scan a completion event. Count it
		// so a late arrival cannot satisfy a later scan's rendezvous.
		s.done = nil
		s.stale++
		s.state = StateFailed
		s.mu.Unlock()
		logging.Error("WiFi scan timeout", zap.Duration("timeout", timeout))
		return wifierr.New(wifierr.KindTimeout, "scan timed out")
	}
}

// Results returns a copy of the collected results and their count.
func (s *Scanner) Results() ([]radio.ScanResult, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]radio.ScanResult, len(s.results))
	copy(out, s.results)
	return out, len(out)
}

// Clear empties the result buffer.
func (s *Scanner) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = s.results[:0]
}

// State returns the current scanner state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastStatus returns the platform status of the most recent completed
// scan, zero until a completion event has been observed.
func (s *Scanner) LastStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scanner) handleEvent(ev radio.Event) {
	switch e := ev.(type) {
	case radio.ScanResultEvent:
		s.appendResult(e.Result)
	case radio.ScanDoneEvent:
		s.finish(e.Status)
	}
}

func (s *Scanner) appendResult(res radio.ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateScanning {
		return
	}
	if len(s.results) >= MaxResults {
		logging.Warn("Scan result buffer full, ignoring result", logging.SSID(res.SSID))
		return
	}

	// The platform does not guarantee SSID termination at the declared
	// length; enforce the bound here.
	if len(res.SSID) > radio.MaxSSIDLen {
		res.SSID = res.SSID[:radio.MaxSSIDLen]
	}

	s.results = append(s.results, res)
	logging.Debug("Scan result",
		zap.Int("index", len(s.results)),
		logging.SSID(res.SSID),
		zap.Int("rssi", res.RSSI),
		zap.Int("channel", res.Channel),
		zap.String("security", res.Security.String()),
	)
}

func (s *Scanner) finish(status int) {
	s.mu.Lock()
	if s.stale > 0 {
		s.stale--
		s.mu.Unlock()
		logging.Debug("Dropping completion from timed-out scan", zap.Int("status", status))
		return
	}
	if s.state != StateScanning {
		s.mu.Unlock()
		return
	}
	if status == 0 {
		s.state = StateComplete
		logging.Info("WiFi scan completed", zap.Int("networks", len(s.results)))
	} else {
		s.state = StateFailed
		logging.Error("WiFi scan failed", zap.Int("status", status))
	}
	s.status = status
	done := s.done
	s.done = nil
	s.mu.Unlock()

	if done != nil {
		done <- status
	}
}
