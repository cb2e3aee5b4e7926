package scanner

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/radio/fake"
	"github.com/picoprov/picoprov/internal/wifierr"
)

// TestScanCollectsResults tests a successful scan end to end
func TestScanCollectsResults(t *testing.T) {
	r := fake.New()
	r.ScanNetworks = []radio.ScanResult{
		{SSID: "Home", RSSI: -40, Channel: 6, Security: radio.SecurityPSK},
		{SSID: "Cafe", RSSI: -70, Channel: 11, Security: radio.SecurityOpen},
	}

	s := New(r)
	defer s.Close()

	if err := s.Scan(time.Second); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if got := s.State(); got != StateComplete {
		t.Errorf("State() = %v, want Complete", got)
	}

	results, count := s.Results()
	if count != 2 {
		t.Fatalf("Results() count = %d, want 2", count)
	}
	if results[0].SSID != "Home" || results[1].SSID != "Cafe" {
		t.Errorf("Results() order = %q, %q; want Home, Cafe", results[0].SSID, results[1].SSID)
	}
}

// TestScanResultCapacity tests that the buffer never exceeds 32 entries
func TestScanResultCapacity(t *testing.T) {
	r := fake.New()
	for i := 0; i < MaxResults+10; i++ {
		r.ScanNetworks = append(r.ScanNetworks, radio.ScanResult{
			SSID: fmt.Sprintf("net-%02d", i),
			RSSI: -50,
		})
	}

	s := New(r)
	defer s.Close()

	if err := s.Scan(time.Second); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	_, count := s.Results()
	if count != MaxResults {
		t.Errorf("Results() count = %d, want %d", count, MaxResults)
	}
}

// TestScanBusy tests fail-fast behavior while a scan is in flight
func TestScanBusy(t *testing.T) {
	r := fake.New()
	r.ScanNetworks = []radio.ScanResult{{SSID: "Home", RSSI: -40}}
	r.MuteScanDone = true // keep the scan in flight

	s := New(r)
	defer s.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Scan(500 * time.Millisecond) // times out; we only need the Scanning window
	}()

	// Wait until the in-flight scan has collected its result.
	deadline := time.Now().Add(time.Second)
	for {
		if _, count := s.Results(); count == 1 && s.State() == StateScanning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scanner never entered Scanning with a result")
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := s.Scan(time.Second)
	if !wifierr.IsBusy(err) {
		t.Errorf("concurrent Scan() error = %v, want Busy", err)
	}
	if got := s.State(); got != StateScanning {
		t.Errorf("State() after Busy = %v, want Scanning", got)
	}
	if _, count := s.Results(); count != 1 {
		t.Errorf("Results() count after Busy = %d, want 1 (untouched)", count)
	}

	wg.Wait()
}

// TestScanNoDevice tests the missing-interface path
func TestScanNoDevice(t *testing.T) {
	r := fake.New()
	r.Device = ""

	s := New(r)
	defer s.Close()

	err := s.Scan(time.Second)
	if !wifierr.IsNoDevice(err) {
		t.Errorf("Scan() error = %v, want NoDevice", err)
	}
}

// TestScanTimeout tests that a silent platform yields Timeout and Failed
func TestScanTimeout(t *testing.T) {
	r := fake.New()
	r.MuteScanDone = true

	s := New(r)
	defer s.Close()

	err := s.Scan(50 * time.Millisecond)
	if !wifierr.IsTimeout(err) {
		t.Errorf("Scan() error = %v, want Timeout", err)
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("State() = %v, want Failed", got)
	}
}

// TestScanFailureStatus tests that a nonzero completion status surfaces
func TestScanFailureStatus(t *testing.T) {
	r := fake.New()
	r.ScanStatus = -5

	s := New(r)
	defer s.Close()

	err := s.Scan(time.Second)
	if err == nil {
		t.Fatal("Scan() error = nil, want failure")
	}
	if got := wifierr.StatusOf(err); got != -5 {
		t.Errorf("StatusOf() = %d, want -5", got)
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("State() = %v, want Failed", got)
	}
	if got := s.LastStatus(); got != -5 {
		t.Errorf("LastStatus() = %d, want -5", got)
	}
}

// TestStaleCompletionIgnored tests that a completion owed by a timed-out
// scan cannot satisfy the next scan's rendezvous
func TestStaleCompletionIgnored(t *testing.T) {
	r := fake.New()
	r.MuteScanDone = true

	s := New(r)
	defer s.Close()

	if err := s.Scan(50 * time.Millisecond); !wifierr.IsTimeout(err) {
		t.Fatalf("first Scan() error = %v, want Timeout", err)
	}

	var wg sync.WaitGroup
	var second error
	wg.Add(1)
	go func() {
		defer wg.Done()
		second = s.Scan(time.Second)
	}()

	deadline := time.Now().Add(time.Second)
	for s.State() != StateScanning {
		if time.Now().After(deadline) {
			t.Fatal("second scan never entered Scanning")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The first scan's completion finally arrives.
	r.Emit(radio.ScanDoneEvent{Status: 0})
	time.Sleep(50 * time.Millisecond)
	if got := s.State(); got != StateScanning {
		t.Fatalf("State() after stale completion = %v, want Scanning", got)
	}

	// The second scan's own completion unblocks it.
	r.Emit(radio.ScanDoneEvent{Status: 0})
	wg.Wait()
	if second != nil {
		t.Errorf("second Scan() error = %v", second)
	}
	if got := s.State(); got != StateComplete {
		t.Errorf("State() = %v, want Complete", got)
	}
}

// TestScanClearsPriorResults tests that each scan starts from an empty buffer
func TestScanClearsPriorResults(t *testing.T) {
	r := fake.New()
	r.ScanNetworks = []radio.ScanResult{{SSID: "First", RSSI: -40}}

	s := New(r)
	defer s.Close()

	if err := s.Scan(time.Second); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}

	r.ScanNetworks = []radio.ScanResult{{SSID: "Second", RSSI: -60}}
	if err := s.Scan(time.Second); err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}

	results, count := s.Results()
	if count != 1 || results[0].SSID != "Second" {
		t.Errorf("Results() = %v, want single entry Second", results)
	}
}

// TestSSIDTruncation tests enforcement of the 32-byte SSID bound
func TestSSIDTruncation(t *testing.T) {
	long := "0123456789012345678901234567890123456789" // 40 bytes
	r := fake.New()
	r.ScanNetworks = []radio.ScanResult{{SSID: long, RSSI: -40}}

	s := New(r)
	defer s.Close()

	if err := s.Scan(time.Second); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	results, _ := s.Results()
	if len(results[0].SSID) != radio.MaxSSIDLen {
		t.Errorf("SSID length = %d, want %d", len(results[0].SSID), radio.MaxSSIDLen)
	}
	if results[0].SSID != long[:radio.MaxSSIDLen] {
		t.Errorf("SSID = %q, want %q", results[0].SSID, long[:radio.MaxSSIDLen])
	}
}

// TestClear tests explicit result clearing
func TestClear(t *testing.T) {
	r := fake.New()
	r.ScanNetworks = []radio.ScanResult{{SSID: "Home", RSSI: -40}}

	s := New(r)
	defer s.Close()

	if err := s.Scan(time.Second); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	s.Clear()
	if _, count := s.Results(); count != 0 {
		t.Errorf("Results() count after Clear = %d, want 0", count)
	}
}
