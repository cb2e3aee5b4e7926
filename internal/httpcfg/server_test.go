package httpcfg

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/wifierr"
)

// stubSource serves fixed scan results to the page renderer.
type stubSource struct {
	results []radio.ScanResult
}

func (s *stubSource) Results() ([]radio.ScanResult, int) {
	return s.results, len(s.results)
}

func startServer(t *testing.T, source ResultSource, cb CredentialsFunc) *Server {
	t.Helper()
	srv := New(Config{Addr: "127.0.0.1:0"}, source)
	if err := srv.Start(cb); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if srv.State() == StateRunning {
			_ = srv.Stop()
		}
	})
	return srv
}

// exchange performs the single request/response round trip the protocol
// defines: write, read until the server closes.
func exchange(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(request)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(resp)
}

// TestConfigPageListsNetworks tests the GET path end to end
func TestConfigPageListsNetworks(t *testing.T) {
	source := &stubSource{results: []radio.ScanResult{
		{SSID: "Home", RSSI: -40, Channel: 6, Security: radio.SecurityPSK},
		{SSID: "Cafe", RSSI: -72, Channel: 11, Security: radio.SecurityOpen},
		{SSID: "Lab", RSSI: -55, Channel: 1, Security: radio.SecuritySAE},
	}}
	srv := startServer(t, source, nil)

	resp := exchange(t, srv.Addr(), "GET / HTTP/1.1\r\nHost: 192.168.4.1\r\n\r\n")

	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK") {
		t.Fatalf("response does not start with 200 OK: %.60q", resp)
	}
	if got := strings.Count(resp, "class='network'"); got != 3 {
		t.Errorf("network entries = %d, want 3", got)
	}
	for _, ssid := range []string{"Home", "Cafe", "Lab"} {
		if !strings.Contains(resp, ssid) {
			t.Errorf("response missing SSID %q", ssid)
		}
	}
	if !strings.Contains(resp, "Signal: -40 dBm") {
		t.Error("response missing signal annotation")
	}
	if !strings.Contains(resp, "WPA2-PSK") || !strings.Contains(resp, "Open") {
		t.Error("response missing security annotations")
	}
	if !strings.Contains(resp, "action='/connect'") {
		t.Error("response missing manual-entry form")
	}
}

// TestConfigPageWithoutScanner tests rendering with no result source
func TestConfigPageWithoutScanner(t *testing.T) {
	srv := startServer(t, nil, nil)

	resp := exchange(t, srv.Addr(), "GET / HTTP/1.1\r\n\r\n")
	if strings.Contains(resp, "Available Networks") {
		t.Error("network section rendered without a scanner")
	}
	if !strings.Contains(resp, "action='/connect'") {
		t.Error("response missing manual-entry form")
	}
}

// TestSubmitCredentials tests the POST /connect path end to end
func TestSubmitCredentials(t *testing.T) {
	var mu sync.Mutex
	var gotSSID, gotPass string
	received := make(chan struct{})

	srv := startServer(t, nil, func(ssid, password string) {
		mu.Lock()
		gotSSID, gotPass = ssid, password
		mu.Unlock()
		close(received)
	})

	body := "ssid=My+Home&password=Secret1"
	req := "POST /connect HTTP/1.1\r\nHost: 192.168.4.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n\r\n" + body

	resp := exchange(t, srv.Addr(), req)
	if !strings.Contains(resp, "WiFi Configuration Saved") {
		t.Errorf("response missing success page: %.80q", resp)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("credential callback never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotSSID != "My Home" {
		t.Errorf("ssid = %q, want \"My Home\"", gotSSID)
	}
	if gotPass != "Secret1" {
		t.Errorf("password = %q, want Secret1", gotPass)
	}
}

// TestMalformedSubmitDiscarded tests that a bodyless POST never fires
// the callback
func TestMalformedSubmitDiscarded(t *testing.T) {
	called := false
	srv := startServer(t, nil, func(ssid, password string) {
		called = true
	})

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	// Request without the blank-line body delimiter.
	_, _ = conn.Write([]byte("POST /connect HTTP/1.1\r\nHost: x"))
	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, _ = io.ReadAll(conn)
	conn.Close()

	time.Sleep(100 * time.Millisecond)
	if called {
		t.Error("callback invoked for malformed submission")
	}
}

// TestStartStopLifecycle tests idempotency errors and the bounded join
func TestStartStopLifecycle(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, nil)

	if err := srv.Stop(); !wifierr.IsAlreadyInactive(err) {
		t.Errorf("Stop() while Stopped error = %v, want AlreadyInactive", err)
	}

	if err := srv.Start(nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := srv.State(); got != StateRunning {
		t.Fatalf("State() = %v, want Running", got)
	}

	if err := srv.Start(nil); !wifierr.IsAlreadyActive(err) {
		t.Errorf("Start() while Running error = %v, want AlreadyActive", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return; accept loop not unblocked")
	}

	if got := srv.State(); got != StateStopped {
		t.Errorf("State() after Stop = %v, want Stopped", got)
	}

	// Restart works from Stopped.
	if err := srv.Start(nil); err != nil {
		t.Fatalf("restart Start() error = %v", err)
	}
	_ = srv.Stop()
}

// scriptedListener replays a fixed sequence of Accept errors.
type scriptedListener struct {
	mu   sync.Mutex
	errs []error
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.errs) == 0 {
		return nil, net.ErrClosed
	}
	err := l.errs[0]
	l.errs = l.errs[1:]
	return nil, err
}

func (l *scriptedListener) Close() error { return nil }
func (l *scriptedListener) Addr() net.Addr { return &net.TCPAddr{} }

type timeoutError struct{}

func (timeoutError) Error() string { return "accept timeout" }
func (timeoutError) Timeout() bool { return true }
func (timeoutError) Temporary() bool { return true }

// TestAcceptFailureMarksFailed tests that a persistent accept error
// ends the serve loop with State reporting Failed rather than Running,
// after transient timeouts have been retried.
func TestAcceptFailureMarksFailed(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, nil)
	srv.mu.Lock()
	srv.state = StateRunning
	srv.running = true
	srv.mu.Unlock()

	done := make(chan struct{})
	ln := &scriptedListener{errs: []error{timeoutError{}, errors.New("socket gone")}}
	go srv.serve(ln, done)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve loop did not exit")
	}

	if got := srv.State(); got != StateFailed {
		t.Errorf("State() = %v, want Failed", got)
	}
	if err := srv.Stop(); !wifierr.IsAlreadyInactive(err) {
		t.Errorf("Stop() after serve failure error = %v, want AlreadyInactive", err)
	}
}
