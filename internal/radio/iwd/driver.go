// Package iwd implements the radio interface on Linux hosts running the
// iwd wireless daemon, speaking its D-Bus API: scanning through the
// Station interface, joining networks through Network.Connect with an
// agent supplying the passphrase, and AP mode through the AccessPoint
// interface.
package iwd

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/radio"
	"github.com/picoprov/picoprov/internal/wifierr"
)

const (
	iwdService        = "net.connman.iwd"
	stationIface      = "net.connman.iwd.Station"
	deviceIface       = "net.connman.iwd.Device"
	networkIface      = "net.connman.iwd.Network"
	accessPointIface  = "net.connman.iwd.AccessPoint"
	objectManagerGet  = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	propertiesGetAll  = "org.freedesktop.DBus.Properties.GetAll"
	propertiesSet     = "org.freedesktop.DBus.Properties.Set"
	propertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// failStatus is the generic status carried by failure events when iwd
// reports an error without a numeric code.
const failStatus = -1

// Driver is the iwd-backed radio. It translates iwd property signals
// and method results into the radio event stream.
type Driver struct {
	conn  *dbus.Conn
	agent *Agent

	mu          sync.Mutex
	subs        map[int]radio.Handler
	nextID      int
	devicePath  dbus.ObjectPath
	stationPath dbus.ObjectPath
	deviceName  string
	station     string // last observed Station.State
	scanPending bool
}

// New connects to the system bus, locates the wireless station, and
// registers the credential agent. NoDevice when iwd exposes no station.
func New() (*Driver, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, wifierr.Wrap(wifierr.KindUnavailable, "failed to connect to system bus", err)
	}

	d := &Driver{
		conn: conn,
		subs: make(map[int]radio.Handler),
	}

	if err := d.findStation(); err != nil {
		conn.Close()
		return nil, err
	}

	d.agent = NewAgent(conn)
	if err := d.agent.Register(); err != nil {
		logging.Warn("Credential agent registration failed", zap.Error(err))
	}

	if err := d.watchSignals(); err != nil {
		conn.Close()
		return nil, err
	}

	logging.Info("iwd radio ready",
		zap.String("device", d.deviceName),
		zap.String("station", string(d.stationPath)),
	)
	return d, nil
}

// Close unregisters the agent and closes the bus connection.
func (d *Driver) Close() {
	if d.agent != nil {
		_ = d.agent.Unregister()
	}
	d.conn.Close()
}

// DeviceName implements radio.Radio.
func (d *Driver) DeviceName() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stationPath == "" {
		return "", wifierr.New(wifierr.KindNoDevice, "no wireless station found")
	}
	return d.deviceName, nil
}

// findStation walks iwd's object tree for the first Station interface
// and records its device name.
func (d *Driver) findStation() error {
	obj := d.conn.Object(iwdService, "/")

	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.Call(objectManagerGet, 0).Store(&managed); err != nil {
		return wifierr.Wrap(wifierr.KindUnavailable, "iwd not reachable", err)
	}

	for path, ifaces := range managed {
		if _, ok := ifaces[stationIface]; !ok {
			continue
		}
		d.stationPath = path
		d.devicePath = path
		if devProps, ok := ifaces[deviceIface]; ok {
			if v, ok := devProps["Name"]; ok {
				d.deviceName, _ = v.Value().(string)
			}
		}
		if stProps, ok := ifaces[stationIface]; ok {
			if v, ok := stProps["State"]; ok {
				d.station, _ = v.Value().(string)
			}
		}
		return nil
	}

	return wifierr.New(wifierr.KindNoDevice, "no wireless station found")
}

// watchSignals subscribes to iwd property changes and maps them onto
// the event stream.
func (d *Driver) watchSignals() error {
	if err := d.conn.AddMatchSignal(
		dbus.WithMatchSender(iwdService),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return wifierr.Wrap(wifierr.KindIO, "failed to subscribe to iwd signals", err)
	}

	ch := make(chan *dbus.Signal, 16)
	d.conn.Signal(ch)

	go func() {
		for sig := range ch {
			if sig.Name != propertiesChanged || len(sig.Body) < 2 {
				continue
			}
			iface, _ := sig.Body[0].(string)
			if iface != stationIface || sig.Path != d.stationPath {
				continue
			}
			props, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			d.handleStationChange(props)
		}
	}()

	return nil
}

func (d *Driver) handleStationChange(props map[string]dbus.Variant) {
	if v, ok := props["Scanning"]; ok {
		scanning, _ := v.Value().(bool)
		d.mu.Lock()
		finished := !scanning && d.scanPending
		if finished {
			d.scanPending = false
		}
		d.mu.Unlock()

		if finished {
			go d.publishScanResults()
		}
	}

	if v, ok := props["State"]; ok {
		next, _ := v.Value().(string)
		d.mu.Lock()
		prev := d.station
		d.station = next
		d.mu.Unlock()

		logging.Debug("Station state changed",
			zap.String("from", prev), zap.String("to", next))

		if prev == "connected" && next == "disconnected" {
			d.emit(radio.DisconnectEvent{Status: failStatus})
		}
	}
}

// TriggerScan implements radio.Radio. Completion is signaled by the
// Scanning property dropping back to false.
func (d *Driver) TriggerScan() error {
	d.mu.Lock()
	station := d.stationPath
	d.scanPending = true
	d.mu.Unlock()

	obj := d.conn.Object(iwdService, station)
	err := obj.Call(stationIface+".Scan", 0).Err
	if err == nil {
		return nil
	}
	if derr, ok := err.(dbus.Error); ok && derr.Name == iwdService+".Busy" {
		// iwd is already scanning on its own; results arrive with the
		// next Scanning transition.
		return nil
	}

	d.mu.Lock()
	d.scanPending = false
	d.mu.Unlock()
	return wifierr.Wrap(wifierr.KindIO, "scan request rejected", err)
}

// publishScanResults fetches the ordered network list and replays it as
// result events followed by a completion event.
func (d *Driver) publishScanResults() {
	networks, err := d.orderedNetworks()
	if err != nil {
		logging.Error("Failed to fetch scan results", zap.Error(err))
		d.emit(radio.ScanDoneEvent{Status: failStatus})
		return
	}

	for _, n := range networks {
		d.emit(radio.ScanResultEvent{Result: n.result})
	}
	d.emit(radio.ScanDoneEvent{Status: 0})
}

type foundNetwork struct {
	path   dbus.ObjectPath
	result radio.ScanResult
}

// orderedNetworks queries Station.GetOrderedNetworks and resolves each
// entry's name and security. iwd reports RSSI in 1/100 dBm.
func (d *Driver) orderedNetworks() ([]foundNetwork, error) {
	d.mu.Lock()
	station := d.stationPath
	d.mu.Unlock()

	var ordered []struct {
		Path dbus.ObjectPath
		RSSI int16
	}
	obj := d.conn.Object(iwdService, station)
	if err := obj.Call(stationIface+".GetOrderedNetworks", 0).Store(&ordered); err != nil {
		return nil, wifierr.Wrap(wifierr.KindIO, "GetOrderedNetworks failed", err)
	}

	networks := make([]foundNetwork, 0, len(ordered))
	for _, entry := range ordered {
		netObj := d.conn.Object(iwdService, entry.Path)
		var props map[string]dbus.Variant
		if err := netObj.Call(propertiesGetAll, 0, networkIface).Store(&props); err != nil {
			continue
		}

		result := radio.ScanResult{RSSI: int(entry.RSSI / 100)}
		if v, ok := props["Name"]; ok {
			result.SSID, _ = v.Value().(string)
		}
		if v, ok := props["Type"]; ok {
			kind, _ := v.Value().(string)
			result.Security = securityFromType(kind)
		}
		networks = append(networks, foundNetwork{path: entry.Path, result: result})
	}
	return networks, nil
}

func securityFromType(kind string) radio.SecurityType {
	switch kind {
	case "open":
		return radio.SecurityOpen
	case "psk":
		return radio.SecurityPSK
	case "8021x":
		return radio.SecurityEnterprise
	default:
		return radio.SecurityPSK
	}
}

// Connect implements radio.Radio. The passphrase is handed to iwd
// through the agent; the join result is delivered as a ConnectResult
// event when Network.Connect resolves.
func (d *Driver) Connect(ssid, passphrase string, security radio.SecurityType) error {
	networks, err := d.orderedNetworks()
	if err != nil {
		return err
	}

	var target dbus.ObjectPath
	for _, n := range networks {
		if n.result.SSID == ssid {
			target = n.path
			break
		}
	}
	if target == "" {
		return wifierr.Newf(wifierr.KindInvalidArgument, "network %q not in range", ssid)
	}

	if passphrase != "" && security != radio.SecurityOpen {
		d.agent.SetPending(target, passphrase)
	}

	go func() {
		obj := d.conn.Object(iwdService, target)
		err := obj.Call(networkIface+".Connect", 0).Err
		if err != nil {
			logging.Warn("Network.Connect failed", logging.SSID(ssid), zap.Error(err))
			d.agent.ClearPending(target)
			d.emit(radio.ConnectResult{Status: failStatus})
			return
		}
		d.emit(radio.ConnectResult{Status: 0})
	}()
	return nil
}

// Disconnect implements radio.Radio. The resulting station state change
// produces the DisconnectEvent.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	station := d.stationPath
	d.mu.Unlock()

	obj := d.conn.Object(iwdService, station)
	if err := obj.Call(stationIface+".Disconnect", 0).Err; err != nil {
		return wifierr.Wrap(wifierr.KindIO, "disconnect failed", err)
	}
	return nil
}

// EnableAP implements radio.Radio by flipping the device into AP mode
// and starting an access point. iwd picks the channel itself; the
// requested channel is advisory only.
func (d *Driver) EnableAP(params radio.APParams) error {
	d.mu.Lock()
	device := d.devicePath
	d.mu.Unlock()

	obj := d.conn.Object(iwdService, device)
	if err := obj.Call(propertiesSet, 0, deviceIface, "Mode", dbus.MakeVariant("ap")).Err; err != nil {
		return wifierr.Wrap(wifierr.KindUnavailable, "AP mode not supported", err)
	}

	go func() {
		apObj := d.conn.Object(iwdService, device)
		err := apObj.Call(accessPointIface+".Start", 0, params.SSID, params.Passphrase).Err
		if err != nil {
			logging.Error("AccessPoint.Start failed", zap.Error(err))
			d.emit(radio.APEnableResult{Status: failStatus})
			return
		}
		d.emit(radio.APEnableResult{Status: 0})
	}()
	return nil
}

// DisableAP implements radio.Radio, returning the device to station
// mode afterwards.
func (d *Driver) DisableAP() error {
	d.mu.Lock()
	device := d.devicePath
	d.mu.Unlock()

	go func() {
		obj := d.conn.Object(iwdService, device)
		if err := obj.Call(accessPointIface+".Stop", 0).Err; err != nil {
			logging.Warn("AccessPoint.Stop failed", zap.Error(err))
			d.emit(radio.APDisableResult{Status: failStatus})
			return
		}
		if err := obj.Call(propertiesSet, 0, deviceIface, "Mode", dbus.MakeVariant("station")).Err; err != nil {
			logging.Warn("Failed to restore station mode", zap.Error(err))
		}
		d.emit(radio.APDisableResult{Status: 0})
	}()
	return nil
}

// Subscribe implements radio.Radio.
func (d *Driver) Subscribe(h radio.Handler) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = h
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Driver) emit(ev radio.Event) {
	d.mu.Lock()
	handlers := make([]radio.Handler, 0, len(d.subs))
	for _, h := range d.subs {
		handlers = append(handlers, h)
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
