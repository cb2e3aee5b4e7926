package httpcfg

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/wifierr"
)

const (
	// DefaultAddr is the standard listen address for the setup page.
	DefaultAddr = ":80"

	// readBufferSize bounds the single read performed per connection.
	readBufferSize = 1024

	// readTimeout bounds how long one client may stall the serve loop.
	readTimeout = 5 * time.Second

	// stopJoinTimeout bounds the wait for the serve loop to exit.
	stopJoinTimeout = 5 * time.Second

	// mdnsInstance is the service name announced while running.
	mdnsInstance = "PicoW Setup"
	mdnsService  = "_http._tcp"
	mdnsDomain   = "local."
)

// State is the configuration-server lifecycle state.
type State int

const (
	// StateStopped means the server holds no socket.
	StateStopped State = iota
	// StateStarting means the listener is being established.
	StateStarting
	// StateRunning means the server is accepting connections.
	StateRunning
	// StateFailed means listener setup or the serve loop failed.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// CredentialsFunc is invoked with the decoded SSID and password of a
// successful submission. It is called from the server's serve goroutine.
type CredentialsFunc func(ssid, password string)

// ResultSource supplies scan results for the network list on the page.
// scanner.Scanner satisfies it.
type ResultSource interface {
	Results() ([]radio.ScanResult, int)
}

// Config holds server settings.
type Config struct {
	// Addr is the listen address; empty means ":80".
	Addr string
	// Announce enables best-effort mDNS announcement of the setup page.
	Announce bool
}

// Server is the HTTP-like configuration endpoint. It serves one request
// per connection from a single dedicated goroutine and closes the
// connection after responding. One instance per process.
type Server struct {
	mu      sync.Mutex
	cfg     Config
	source  ResultSource
	state   State
	running bool
	ln      net.Listener
	creds   CredentialsFunc
	done    chan struct{}
	mdns    *zeroconf.Server
}

// New creates a stopped server. source may be nil; the page then renders
// only the manual-entry form.
func New(cfg Config, source ResultSource) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		cfg:    cfg,
		source: source,
		state:  StateStopped,
	}
}

// State returns the current server state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Addr returns the bound listen address, or empty when not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds the listener and launches the serve goroutine. It fails
// with AlreadyRunning unless the server is Stopped, and with an I/O error
// (state Failed) when the socket cannot be bound.
func (s *Server) Start(cb CredentialsFunc) error {
	s.mu.Lock()
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		logging.Warn("Config server already running", zap.String("state", state.String()))
		return wifierr.Newf(wifierr.KindAlreadyActive, "config server is %s", state)
	}
	s.state = StateStarting
	s.creds = cb
	s.running = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.running = false
		s.mu.Unlock()
		logging.Error("Config server failed to listen",
			zap.String("addr", s.cfg.Addr),
			zap.Error(err),
		)
		return wifierr.Wrap(wifierr.KindIO, "failed to bind config server socket", err)
	}

	done := make(chan struct{})

	s.mu.Lock()
	s.ln = ln
	s.done = done
	s.state = StateRunning
	s.mu.Unlock()

	logging.Info("Config server listening", zap.String("addr", ln.Addr().String()))

	if s.cfg.Announce {
		s.announce(ln)
	}

	go s.serve(ln, done)
	return nil
}

// Stop clears the running flag, closes the listening socket to unblock
// the pending accept, and joins the serve goroutine with a bounded wait.
// It fails with AlreadyStopped unless the server is Running.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		logging.Warn("Config server not running", zap.String("state", state.String()))
		return wifierr.Newf(wifierr.KindAlreadyInactive, "config server is %s", state)
	}
	s.running = false
	ln := s.ln
	done := s.done
	mdns := s.mdns
	s.ln = nil
	s.mdns = nil
	s.mu.Unlock()

	logging.Info("Stopping config server")

	if mdns != nil {
		mdns.Shutdown()
	}
	if ln != nil {
		_ = ln.Close()
	}

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		logging.Warn("Config server join timed out", zap.Duration("timeout", stopJoinTimeout))
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return nil
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) serve(ln net.Listener, done chan struct{}) {
	defer close(done)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.isRunning() || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logging.Warn("Transient accept failure", zap.Error(err))
				continue
			}
			logging.Error("Accept failed, config server shutting down", zap.Error(err))
			s.failServe(ln)
			return
		}
		s.handleConn(conn)
	}
}

// failServe records a serve-loop failure so State stops reporting
// Running, and releases the socket and mDNS registration.
func (s *Server) failServe(ln net.Listener) {
	s.mu.Lock()
	s.state = StateFailed
	s.running = false
	mdns := s.mdns
	s.mdns = nil
	s.ln = nil
	s.mu.Unlock()

	if mdns != nil {
		mdns.Shutdown()
	}
	_ = ln.Close()
}

// handleConn performs the single request/response exchange: one bounded
// read, a routing decision on the raw request line, one write.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	logging.LogConnection(remote, "connection_accepted")

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	buf := make([]byte, readBufferSize)
	n, _ := conn.Read(buf)
	if n <= 0 {
		return
	}
	req := buf[:n]

	logging.Debug("Request received",
		zap.String("remote_addr", remote),
		zap.Int("bytes", n),
	)

	if bytes.HasPrefix(req, connectPrefix) {
		s.handleSubmit(conn, remote, req)
		return
	}

	var results []radio.ScanResult
	if s.source != nil {
		results, _ = s.source.Results()
	}
	_, _ = conn.Write([]byte(renderPage(results)))
	logging.LogConnection(remote, "page_served")
}

func (s *Server) handleSubmit(conn net.Conn, remote string, req []byte) {
	i := bytes.Index(req, requestHeaderEnd)
	if i < 0 {
		// No body; malformed submission is discarded.
		return
	}
	body := req[i+len(requestHeaderEnd):]

	ssid, password, ok := ParseCredentials(body)
	if !ok {
		logging.Warn("Malformed credential submission discarded",
			zap.String("remote_addr", remote),
		)
		return
	}

	logging.Info("Credentials received", logging.SSID(ssid))

	// Respond before the callback: the callback tears down the AP this
	// client is connected through.
	_, _ = conn.Write([]byte(htmlSuccess))
	logging.LogConnection(remote, "credentials_submitted")

	s.mu.Lock()
	cb := s.creds
	s.mu.Unlock()
	if cb != nil {
		cb(ssid, password)
	}
}

// announce registers the setup page in mDNS so clients can reach it by
// name. Best-effort: registration failure is logged and ignored.
func (s *Server) announce(ln net.Listener) {
	port := 80
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	mdns, err := zeroconf.Register(mdnsInstance, mdnsService, mdnsDomain, port,
		[]string{"path=/"}, nil)
	if err != nil {
		logging.Warn("mDNS announcement failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.mdns = mdns
	s.mu.Unlock()

	logging.Info("Setup page announced via mDNS",
		zap.String("instance", mdnsInstance),
		zap.Int("port", port),
	)
}
