package radio

// MaxSSIDLen is the maximum SSID length in bytes.
const MaxSSIDLen = 32

// MaxPassphraseLen is the maximum WPA passphrase length in bytes.
const MaxPassphraseLen = 64

// SecurityType identifies the security mode of a network.
type SecurityType int

const (
	// SecurityOpen is an unsecured network.
	SecurityOpen SecurityType = iota
	// SecurityPSK is WPA2 with a pre-shared key.
	SecurityPSK
	// SecurityPSKSHA256 is WPA2-PSK with SHA-256 key derivation.
	SecurityPSKSHA256
	// SecuritySAE is WPA3 simultaneous authentication of equals.
	SecuritySAE
	// SecurityEnterprise is 802.1X enterprise authentication.
	SecurityEnterprise
)

// String returns the label shown on configuration surfaces.
func (s SecurityType) String() string {
	switch s {
	case SecurityOpen:
		return "Open"
	case SecurityPSK:
		return "WPA2-PSK"
	case SecurityPSKSHA256:
		return "WPA2-PSK-SHA256"
	case SecuritySAE:
		return "WPA3-SAE"
	case SecurityEnterprise:
		return "WPA2-EAP"
	default:
		return "Unknown"
	}
}

// ScanResult describes one discovered network.
type ScanResult struct {
	SSID     string
	RSSI     int // signal strength in dBm
	Channel  int
	Security SecurityType
}

// APParams configures access-point mode.
type APParams struct {
	SSID       string
	Passphrase string // empty means open network
	Channel    int
	Security   SecurityType
}

// Event is a notification delivered by a radio driver. Events arrive on
// driver-owned goroutines; handlers must not block.
type Event interface {
	isEvent()
}

// ScanResultEvent reports one network found during an active scan.
type ScanResultEvent struct {
	Result ScanResult
}

// ScanDoneEvent reports scan completion. Status 0 means success; any
// other value is the platform failure code.
type ScanDoneEvent struct {
	Status int
}

// APEnableResult reports the outcome of an AP-mode enable request.
type APEnableResult struct {
	Status int
}

// APDisableResult reports the outcome of an AP-mode disable request.
type APDisableResult struct {
	Status int
}

// ConnectResult reports the outcome of a station connect request.
type ConnectResult struct {
	Status int
}

// DisconnectEvent reports that the station association was lost.
type DisconnectEvent struct {
	Status int
}

func (ScanResultEvent) isEvent() {}
func (ScanDoneEvent) isEvent() {}
func (APEnableResult) isEvent() {}
func (APDisableResult) isEvent() {}
func (ConnectResult) isEvent() {}
func (DisconnectEvent) isEvent() {}

// Handler receives radio events.
type Handler func(Event)

// Radio is the platform radio a provisioning component drives. Request
// methods only submit work; outcomes arrive as events on subscribed
// handlers. Each subscription carries its own handler, so there is no
// process-global callback registration.
type Radio interface {
	// DeviceName returns the wireless interface name, or a NoDevice
	// error when no interface exists.
	DeviceName() (string, error)

	// TriggerScan submits a scan request. Results and the completion
	// notification are delivered as events.
	TriggerScan() error

	// EnableAP requests AP mode with the given parameters. The
	// APEnableResult event is the sole authority on the outcome.
	EnableAP(params APParams) error

	// DisableAP requests AP-mode teardown.
	DisableAP() error

	// Connect requests a station association.
	Connect(ssid, passphrase string, security SecurityType) error

	// Disconnect drops the current station association.
	Disconnect() error

	// Subscribe registers a handler for radio events and returns a
	// cancel function that unregisters it.
	Subscribe(h Handler) (cancel func())
}
