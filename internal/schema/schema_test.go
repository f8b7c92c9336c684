package schema

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallbox-bridge/internal/model"
	"wallbox-bridge/internal/parse"
)

type mockObjectStore struct {
	EnsureObjectsFunc func(ctx context.Context, objects []model.StateObject) error
}

func (m *mockObjectStore) EnsureObjects(ctx context.Context, objects []model.StateObject) error {
	return m.EnsureObjectsFunc(ctx, objects)
}

func TestNodes_Declared(t *testing.T) {
	// The full state surface exposed to the home-automation side.
	expected := []string{
		"info.serialNumber", "info.uid", "info.name", "info.chargerType", "info.lastConnection",
		"info.lastSyncDT", "info.powerSharingStatus", "info.car_connected", "info.status",
		"info._rawData", "info._rawDataExtended",
		"info.software.currentVersion", "info.software.latestVersion", "info.software.updateAvailable",
		"info.lock.auto_lock", "info.lock.auto_lock_time",
		"charging.stateOfCharge", "charging.finished", "charging.maxChgCurrent", "charging.maxAvailableCurrent",
		"charging.maxChargingCurrent", "charging.chargerLoadName", "charging.chargerLoadId", "charging.chargingType",
		"charging.connectorType", "charging.charging_speed", "charging.charging_power", "charging.charging_time",
		"chargingData.monthly.totalUsers", "chargingData.monthly.totalSessions", "chargingData.monthly.chargingTime",
		"chargingData.monthly.totalEnergy", "chargingData.monthly.totalMidEnergy", "chargingData.monthly.energyUnit",
		"chargingData.monthly.cost",
		"chargingData.last_session.added_energy", "chargingData.last_session.added_range",
		"control.reboot", "control.pause", "control.resume", "control.locked", "control.update", "control.maxChargingCurrent",
		"connection.ocppConnectionStatus", "connection.ocppReady", "connection.connectionType", "connection.wifiSignal",
		"connection.protocolCommunication",
		"connection.mid.midEnabled", "connection.mid.midMargin", "connection.mid.midMarginUnit",
		"connection.mid.midSerialNumber", "connection.mid.midStatus",
	}

	for _, path := range expected {
		_, ok := Lookup(path)
		assert.True(t, ok, "path %s should be declared", path)
	}
}

func TestNodes_Types(t *testing.T) {
	for _, n := range Nodes() {
		assert.Contains(t, []string{parse.KindString, parse.KindNumber, parse.KindBoolean}, n.Type, n.Path)
		assert.NotEmpty(t, n.Name, n.Path)
		if len(n.States) > 0 {
			assert.Equal(t, parse.KindNumber, n.Type, "enumerated node %s must be numeric", n.Path)
		}
	}
}

func TestWritable(t *testing.T) {
	var paths []string
	for _, n := range Writable() {
		paths = append(paths, n.Path)
	}

	assert.ElementsMatch(t, []string{
		"info.name",
		"control.reboot",
		"control.pause",
		"control.resume",
		"control.factory",
		"control.update",
		"control.locked",
		"control.maxChargingCurrent",
	}, paths)
}

func TestLookup_Unknown(t *testing.T) {
	_, ok := Lookup("info.doesNotExist")
	assert.False(t, ok)
}

func TestNodes_ReturnsCopy(t *testing.T) {
	list := Nodes()
	list[0].Path = "mutated"

	_, ok := Lookup("mutated")
	assert.False(t, ok)
	assert.NotEqual(t, "mutated", Nodes()[0].Path)
}

func TestProvision(t *testing.T) {
	var got []model.StateObject
	store := &mockObjectStore{
		EnsureObjectsFunc: func(ctx context.Context, objects []model.StateObject) error {
			got = objects
			return nil
		},
	}

	require.NoError(t, Provision(context.Background(), store))
	require.Len(t, got, len(Nodes()))

	var status model.StateObject
	for _, obj := range got {
		if obj.Path == "info.status" {
			status = obj
		}
	}
	require.NotEmpty(t, status.States)

	var labels map[int]string
	require.NoError(t, json.Unmarshal([]byte(status.States), &labels))
	assert.Equal(t, "Charging", labels[194])
	assert.Equal(t, "Locked - Car connected", labels[210])
}
