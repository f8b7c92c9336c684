// Package schema declares every state of the charger tree.
package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"wallbox-bridge/internal/model"
	"wallbox-bridge/internal/parse"
)

// Node is one declared state path.
type Node struct {
	Path   string
	Name   string
	Type   string
	Role   string
	Unit   string
	Read   bool
	Write  bool
	States map[int]string
}

// Object converts the node to its persisted declaration.
func (n Node) Object() (model.StateObject, error) {
	obj := model.StateObject{
		Path:  n.Path,
		Name:  n.Name,
		Type:  n.Type,
		Role:  n.Role,
		Unit:  n.Unit,
		Read:  n.Read,
		Write: n.Write,
	}
	if len(n.States) > 0 {
		b, err := json.Marshal(n.States)
		if err != nil {
			return model.StateObject{}, fmt.Errorf("failed to encode states of %s: %w", n.Path, err)
		}
		obj.States = string(b)
	}
	return obj, nil
}

var (
	number  = parse.KindNumber
	str     = parse.KindString
	boolean = parse.KindBoolean
)

// StatusLabels is the vendor's status code table.
var StatusLabels = map[int]string{
	0:   "Disconnected",
	14:  "Error",
	15:  "Error",
	161: "Ready",
	162: "Ready",
	163: "Disconnected",
	164: "Waiting",
	165: "Locked",
	166: "Updating",
	177: "Scheduled",
	178: "Paused",
	179: "Scheduled",
	180: "Waiting for car demand",
	181: "Waiting for car demand",
	182: "Paused",
	183: "Waiting in queue by Power Sharing",
	184: "Waiting in queue by Power Sharing",
	185: "Waiting in queue by Power Boost",
	186: "Waiting in queue by Power Boost",
	187: "Waiting MID failed",
	188: "Waiting MID safety margin exceeded",
	189: "Waiting in queue by Eco-Smart",
	193: "Charging",
	194: "Charging",
	195: "Charging",
	196: "Discharging",
	209: "Locked",
	210: "Locked - Car connected",
}

var enabledLabels = map[int]string{0: "Disabled", 1: "Enabled"}

var nodes = []Node{
	{Path: "info.connection", Name: "Connected to the vendor API", Type: boolean, Role: "indicator.connected", Read: true},
	{Path: "info.serialNumber", Name: "Serial number", Type: str, Role: "state", Read: true},
	{Path: "info.uid", Name: "UID", Type: str, Role: "state", Read: true},
	{Path: "info.name", Name: "Name of the charger", Type: str, Role: "state", Read: true, Write: true},
	{Path: "info.chargerType", Name: "Charger type", Type: str, Role: "state", Read: true},
	{Path: "info.lastConnection", Name: "Last synchronisation with the portal", Type: number, Role: "date", Read: true},
	{Path: "info.lastSyncDT", Name: "Last synchronisation with the portal (date and time)", Type: str, Role: "state", Read: true},
	{Path: "info.powerSharingStatus", Name: "Power sharing status", Type: number, Role: "indicator", Read: true},
	{Path: "info.car_connected", Name: "Car connected", Type: boolean, Role: "indicator", Read: true},
	{Path: "info.status", Name: "Charger status", Type: number, Role: "value.lock", Read: true, States: StatusLabels},
	{Path: "info.software.currentVersion", Name: "Installed software version", Type: str, Role: "state", Read: true},
	{Path: "info.software.latestVersion", Name: "Latest available software version", Type: str, Role: "state", Read: true},
	{Path: "info.software.updateAvailable", Name: "Software update available", Type: boolean, Role: "indicator", Read: true},
	{Path: "info.lock.auto_lock", Name: "Auto-lock", Type: number, Role: "indicator", Read: true, States: enabledLabels},
	{Path: "info.lock.auto_lock_time", Name: "Auto-lock delay", Type: number, Role: "value", Unit: "s", Read: true},
	{Path: "info._rawData", Name: "Raw charger data", Type: str, Role: "json", Read: true},
	{Path: "info._rawDataExtended", Name: "Raw extended charger data", Type: str, Role: "json", Read: true},

	{Path: "charging.stateOfCharge", Name: "State of charge", Type: boolean, Role: "indicator", Read: true},
	{Path: "charging.finished", Name: "Charging finished", Type: boolean, Role: "indicator", Read: true},
	{Path: "charging.maxChgCurrent", Name: "Max. charging current (control state)", Type: number, Role: "value", Unit: "A", Read: true},
	{Path: "charging.maxAvailableCurrent", Name: "Max. available current", Type: number, Role: "value.current", Unit: "A", Read: true},
	{Path: "charging.maxChargingCurrent", Name: "Max. charging current", Type: number, Role: "value.current", Unit: "A", Read: true},
	{Path: "charging.chargerLoadName", Name: "Charger load name", Type: str, Role: "state", Read: true},
	{Path: "charging.chargerLoadId", Name: "Charger load ID", Type: number, Role: "value", Read: true},
	{Path: "charging.chargingType", Name: "Voltage type", Type: str, Role: "state", Read: true},
	{Path: "charging.connectorType", Name: "Connector type", Type: str, Role: "state", Read: true},
	{Path: "charging.charging_speed", Name: "Charging speed", Type: number, Role: "value", Read: true},
	{Path: "charging.charging_power", Name: "Charging power", Type: number, Role: "value.power.active", Unit: "W", Read: true},
	{Path: "charging.charging_time", Name: "Time connected to the car", Type: number, Role: "value", Read: true},

	{Path: "chargingData.monthly.totalUsers", Name: "Monthly users", Type: number, Role: "value", Read: true},
	{Path: "chargingData.monthly.totalSessions", Name: "Monthly sessions", Type: number, Role: "value", Read: true},
	{Path: "chargingData.monthly.chargingTime", Name: "Monthly charging time", Type: number, Role: "value", Unit: "s", Read: true},
	{Path: "chargingData.monthly.totalEnergy", Name: "Monthly energy", Type: number, Role: "value.energy.consumed", Unit: "Wh", Read: true},
	{Path: "chargingData.monthly.totalMidEnergy", Name: "Monthly MID energy", Type: number, Role: "value.energy.consumed", Unit: "Wh", Read: true},
	{Path: "chargingData.monthly.energyUnit", Name: "Energy unit of the portal", Type: str, Role: "value", Read: true},
	{Path: "chargingData.monthly.cost", Name: "Cost of charging in the current month", Type: number, Role: "value", Read: true},
	{Path: "chargingData.last_session.added_energy", Name: "Energy added in the last session", Type: number, Role: "value.energy.consumed", Unit: "Wh", Read: true},
	{Path: "chargingData.last_session.added_range", Name: "Range added in the last session", Type: number, Role: "value", Unit: "km", Read: true},

	{Path: "control.reboot", Name: "Reboot charger", Type: boolean, Role: "button", Write: true},
	{Path: "control.pause", Name: "Pause charging", Type: boolean, Role: "button", Write: true},
	{Path: "control.resume", Name: "Resume charging", Type: boolean, Role: "button", Write: true},
	{Path: "control.factory", Name: "Factory reset", Type: boolean, Role: "button", Write: true},
	{Path: "control.update", Name: "Install software update", Type: boolean, Role: "button", Write: true},
	{Path: "control.locked", Name: "Charger locked", Type: number, Role: "switch.lock", Read: true, Write: true, States: map[int]string{0: "Unlocked", 1: "Locked"}},
	{Path: "control.maxChargingCurrent", Name: "Max. charging current", Type: number, Role: "level.current", Unit: "A", Read: true, Write: true},

	{Path: "connection.ocppConnectionStatus", Name: "OCPP connection status", Type: number, Role: "indicator", Read: true},
	{Path: "connection.ocppReady", Name: "OCPP ready", Type: str, Role: "state", Read: true},
	{Path: "connection.connectionType", Name: "Connection type", Type: str, Role: "state", Read: true},
	{Path: "connection.wifiSignal", Name: "Wifi signal strength", Type: number, Role: "value", Unit: "%", Read: true},
	{Path: "connection.protocolCommunication", Name: "Communication protocol", Type: str, Role: "state", Read: true},
	{Path: "connection.mid.midEnabled", Name: "MID enabled", Type: number, Role: "value", Read: true, States: enabledLabels},
	{Path: "connection.mid.midMargin", Name: "MID margin", Type: number, Role: "value", Read: true},
	{Path: "connection.mid.midMarginUnit", Name: "MID margin unit", Type: number, Role: "value", Read: true},
	{Path: "connection.mid.midSerialNumber", Name: "MID serial number", Type: str, Role: "state", Read: true},
	{Path: "connection.mid.midStatus", Name: "MID status", Type: number, Role: "value", Read: true},
}

var index = func() map[string]Node {
	m := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := m[n.Path]; dup {
			panic("schema: duplicate path " + n.Path)
		}
		m[n.Path] = n
	}
	return m
}()

// Nodes returns all declared nodes in declaration order.
func Nodes() []Node {
	out := make([]Node, len(nodes))
	copy(out, nodes)
	return out
}

// Lookup returns the node declared at path.
func Lookup(path string) (Node, bool) {
	n, ok := index[path]
	return n, ok
}

// Writable returns the nodes that accept external writes.
func Writable() []Node {
	var out []Node
	for _, n := range nodes {
		if n.Write {
			out = append(out, n)
		}
	}
	return out
}

// ObjectStore is the part of the state tree provisioning needs.
type ObjectStore interface {
	EnsureObjects(ctx context.Context, objects []model.StateObject) error
}

// Provision declares every node in the store. Nodes that already exist keep
// their declaration and current value.
func Provision(ctx context.Context, s ObjectStore) error {
	objects := make([]model.StateObject, 0, len(nodes))
	for _, n := range nodes {
		obj, err := n.Object()
		if err != nil {
			return err
		}
		objects = append(objects, obj)
	}
	return s.EnsureObjects(ctx, objects)
}
