package softap

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/wifierr"
)

// Defaults for the provisioning access point.
const (
	DefaultSSID    = "PicoW-Setup"
	DefaultChannel = 6
	DefaultIP      = "192.168.4.1"
	DefaultPrefix  = 24
	DefaultPool    = "192.168.4.10"
)

// State is the access-point lifecycle state. Transitions to Active and
// Failed are driven by asynchronous radio events, not by the caller.
type State int

const (
	// StateIdle means the AP is not started.
	StateIdle State = iota
	// StateStarting means enable was requested and the result is pending.
	StateStarting
	// StateActive means the AP is up and serving.
	StateActive
	// StateFailed means the last enable attempt failed.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStarting:
		return "Starting"
	case StateActive:
		return "Active"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Config holds the AP parameters. Immutable once Start is requested.
type Config struct {
	SSID      string
	Password  string // empty means open network
	Channel   int
	IP        net.IP
	PrefixLen uint8
	PoolStart net.IP
}

// DefaultConfig returns the stock provisioning AP configuration: an open
// network named PicoW-Setup on channel 6 at 192.168.4.1/24 with a client
// address pool starting at 192.168.4.10.
func DefaultConfig() Config {
	return Config{
		SSID:      DefaultSSID,
		Password:  "",
		Channel:   DefaultChannel,
		IP:        net.ParseIP(DefaultIP).To4(),
		PrefixLen: DefaultPrefix,
		PoolStart: net.ParseIP(DefaultPool).To4(),
	}
}

// Addresser configures AP-side addressing. netif.Manager is the
// production implementation.
type Addresser interface {
	AssignAddress(ifname string, ip net.IP, prefixLen uint8) error
	StartAddressService(ifname string, poolStart net.IP) error
	StopAddressService(ifname string) error
}

// Controller runs the temporary provisioning access point. One active
// instance per process; the orchestrator serializes access to it.
type Controller struct {
	mu     sync.Mutex
	r      radio.Radio
	addr   Addresser
	cfg    Config
	state  State
	cancel func()
}

// New creates a controller with the given configuration (zero-value SSID
// fields fall back to defaults) and subscribes it to AP radio events.
func New(r radio.Radio, addr Addresser, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.SSID == "" {
		cfg.SSID = def.SSID
	}
	if cfg.Channel == 0 {
		cfg.Channel = def.Channel
	}
	if cfg.IP == nil {
		cfg.IP = def.IP
	}
	if cfg.PrefixLen == 0 {
		cfg.PrefixLen = def.PrefixLen
	}
	if cfg.PoolStart == nil {
		cfg.PoolStart = def.PoolStart
	}

	c := &Controller{
		r:     r,
		addr:  addr,
		cfg:   cfg,
		state: StateIdle,
	}
	c.cancel = r.Subscribe(c.handleEvent)
	logging.Info("AP controller initialized", logging.SSID(cfg.SSID))
	return c
}

// Close unsubscribes the controller from radio events.
func (c *Controller) Close() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Config returns the AP parameters.
func (c *Controller) Config() Config {
	return c.cfg
}

// State returns the current AP state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset returns a Failed controller to Idle so a later provisioning pass
// can retry. Any other state is left alone.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateFailed {
		c.state = StateIdle
	}
}

// Start requests AP-mode enable and best-effort addressing. It fails with
// AlreadyActive unless the controller is Idle, and with Unavailable when
// the radio rejects the enable request outright. The asynchronous enable
// result is the sole authority that moves the state to Active or Failed;
// address assignment and the address-assignment service are attempted
// regardless and their failures are logged but non-fatal, because neither
// is guaranteed on AP-mode radios.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		logging.Warn("AP already active or starting", zap.String("state", state.String()))
		return wifierr.Newf(wifierr.KindAlreadyActive, "AP is %s", state)
	}
	c.state = StateStarting
	c.mu.Unlock()

	ifname, err := c.r.DeviceName()
	if err != nil {
		c.setState(StateFailed)
		return err
	}

	params := radio.APParams{
		SSID:     c.cfg.SSID,
		Channel:  c.cfg.Channel,
		Security: radio.SecurityOpen,
	}
	if c.cfg.Password != "" {
		params.Security = radio.SecurityPSK
		params.Passphrase = c.cfg.Password
	}

	logging.Info("Starting WiFi AP",
		logging.SSID(params.SSID),
		zap.Int("channel", params.Channel),
		zap.String("security", params.Security.String()),
	)

	if err := c.r.EnableAP(params); err != nil {
		c.setState(StateFailed)
		logging.Error("Failed to start WiFi AP", zap.Error(err))
		return wifierr.Wrap(wifierr.KindUnavailable, "AP mode enable rejected", err)
	}

	// Addressing is attempted without waiting for the enable result; the
	// interface accepts the address before the radio finishes coming up.
	if c.addr != nil {
		if err := c.addr.AssignAddress(ifname, c.cfg.IP, c.cfg.PrefixLen); err != nil {
			logging.Error("Failed to assign AP address", zap.Error(err))
		}
		if err := c.addr.StartAddressService(ifname, c.cfg.PoolStart); err != nil {
			logging.Warn("Address-assignment service unavailable",
				zap.Error(err),
				zap.String("hint", "clients need a manual IP in "+c.cfg.IP.String()+" subnet"),
			)
		}
	}

	return nil
}

// Stop requests AP-mode disable. It fails with AlreadyInactive unless the
// AP is Active. The state returns to Idle when the disable result event
// arrives.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateActive {
		state := c.state
		c.mu.Unlock()
		logging.Warn("AP not active", zap.String("state", state.String()))
		return wifierr.Newf(wifierr.KindAlreadyInactive, "AP is %s", state)
	}
	c.mu.Unlock()

	logging.Info("Stopping WiFi AP")

	if c.addr != nil {
		if ifname, err := c.r.DeviceName(); err == nil {
			if err := c.addr.StopAddressService(ifname); err != nil {
				logging.Warn("Failed to stop address service", zap.Error(err))
			}
		}
	}

	if err := c.r.DisableAP(); err != nil {
		logging.Error("Failed to stop WiFi AP", zap.Error(err))
		return wifierr.Wrap(wifierr.KindIO, "AP disable rejected", err)
	}
	return nil
}

func (c *Controller) handleEvent(ev radio.Event) {
	switch e := ev.(type) {
	case radio.APEnableResult:
		if e.Status == 0 {
			c.setState(StateActive)
			logging.Info("WiFi AP enabled successfully")
		} else {
			c.setState(StateFailed)
			logging.Error("WiFi AP enable failed", zap.Int("status", e.Status))
		}
	case radio.APDisableResult:
		c.setState(StateIdle)
		logging.Info("WiFi AP disabled")
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	from := c.state
	c.state = s
	c.mu.Unlock()
	if from != s {
		logging.LogStateChange("softap", from.String(), s.String())
	}
}
