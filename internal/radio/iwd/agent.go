package iwd

import (
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/picoprov/picoprov/internal/logging"
)

const (
	agentPath     = "/com/picoprov/agent"
	agentIface    = "net.connman.iwd.Agent"
	agentMgrIface = "net.connman.iwd.AgentManager"
	agentMgrPath  = "/net/connman/iwd"

	// credentialTTL bounds how long a pending passphrase stays usable.
	credentialTTL = 30 * time.Second
)

type pendingCredential struct {
	passphrase string
	created    time.Time
}

// Agent implements the net.connman.iwd.Agent D-Bus interface. iwd calls
// RequestPassphrase when joining a secured network; the driver stages
// the passphrase here before triggering Network.Connect.
type Agent struct {
	conn    *dbus.Conn
	mu      sync.Mutex
	pending map[dbus.ObjectPath]pendingCredential
}

// NewAgent creates an unregistered agent on the given bus connection.
func NewAgent(conn *dbus.Conn) *Agent {
	return &Agent{
		conn:    conn,
		pending: make(map[dbus.ObjectPath]pendingCredential),
	}
}

// SetPending stages a passphrase for the given network object.
func (a *Agent) SetPending(network dbus.ObjectPath, passphrase string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[network] = pendingCredential{
		passphrase: passphrase,
		created:    time.Now(),
	}
}

// ClearPending drops a staged passphrase.
func (a *Agent) ClearPending(network dbus.ObjectPath) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, network)
}

// RequestPassphrase is called by iwd for PSK/SAE networks. Staged
// credentials are single-use and expire after credentialTTL.
func (a *Agent) RequestPassphrase(network dbus.ObjectPath) (string, *dbus.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cred, ok := a.pending[network]
	if !ok {
		return "", dbus.NewError(agentIface+".Error.Canceled",
			[]interface{}{"no credential available"})
	}
	if time.Since(cred.created) > credentialTTL {
		delete(a.pending, network)
		return "", dbus.NewError(agentIface+".Error.Canceled",
			[]interface{}{"credential expired"})
	}

	delete(a.pending, network)
	return cred.passphrase, nil
}

// RequestPrivateKeyPassphrase rejects enterprise key requests.
func (a *Agent) RequestPrivateKeyPassphrase(network dbus.ObjectPath) (string, *dbus.Error) {
	return "", dbus.NewError(agentIface+".Error.Canceled",
		[]interface{}{"private key passphrase not supported"})
}

// RequestUserNameAndPassword rejects 802.1x EAP requests.
func (a *Agent) RequestUserNameAndPassword(network dbus.ObjectPath) (string, string, *dbus.Error) {
	return "", "", dbus.NewError(agentIface+".Error.Canceled",
		[]interface{}{"EAP authentication not supported"})
}

// RequestUserPassword rejects EAP password requests.
func (a *Agent) RequestUserPassword(network dbus.ObjectPath, user string) (string, *dbus.Error) {
	return "", dbus.NewError(agentIface+".Error.Canceled",
		[]interface{}{"user password authentication not supported"})
}

// Cancel is called by iwd when a request is abandoned. All staged
// credentials are dropped to avoid stale state.
func (a *Agent) Cancel(reason string) *dbus.Error {
	logging.Debug("Credential request cancelled", zap.String("reason", reason))
	a.mu.Lock()
	a.pending = make(map[dbus.ObjectPath]pendingCredential)
	a.mu.Unlock()
	return nil
}

// Release is called by iwd when the agent is unregistered.
func (a *Agent) Release() *dbus.Error {
	a.mu.Lock()
	a.pending = make(map[dbus.ObjectPath]pendingCredential)
	a.mu.Unlock()
	return nil
}

// Register exports the agent and registers it with iwd's AgentManager.
func (a *Agent) Register() error {
	if err := a.conn.Export(a, agentPath, agentIface); err != nil {
		return err
	}
	obj := a.conn.Object(iwdService, agentMgrPath)
	return obj.Call(agentMgrIface+".RegisterAgent", 0, dbus.ObjectPath(agentPath)).Err
}

// Unregister removes the agent from iwd's AgentManager.
func (a *Agent) Unregister() error {
	obj := a.conn.Object(iwdService, agentMgrPath)
	return obj.Call(agentMgrIface+".UnregisterAgent", 0, dbus.ObjectPath(agentPath)).Err
}
