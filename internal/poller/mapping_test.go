package poller

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallbox-bridge/internal/parse"
	"wallbox-bridge/internal/schema"
	"wallbox-bridge/internal/wallbox"
)

const chargerFixture = `{
	"serialNumber": "SN-123",
	"uid": "abc-uid",
	"name": "Garage",
	"chargerType": "PLP1",
	"status": 194,
	"lastConnection": 1700000000,
	"powerSharingStatus": 0,
	"stateOfCharge": false,
	"maxChgCurrent": 32,
	"maxAvailableCurrent": 32,
	"maxChargingCurrent": 16,
	"chargerLoadName": "Load",
	"chargerLoadId": 7,
	"chargingType": "AC",
	"connectorType": "Type2",
	"ocppConnectionStatus": 1,
	"ocppReady": "ocpp_ready",
	"wifiSignal": 87,
	"connectionType": "wifi",
	"protocolCommunication": "wifi",
	"midEnabled": 0,
	"midMargin": 0,
	"midMarginUnit": 0,
	"midSerialNumber": "",
	"midStatus": 0,
	"locked": 0,
	"ecoSmart": {"enabled": false},
	"resume": {
		"totalUsers": "1",
		"totalSessions": "12",
		"chargingTime": "36000",
		"totalEnergy": "12345",
		"totalMidEnergy": "0",
		"energyUnit": "kWh"
	}
}`

const statusFixture = `{
	"charging_speed": 0,
	"charging_power": 7.4,
	"finished": false,
	"charging_time": 5400,
	"added_energy": 2.5,
	"added_range": 15,
	"depot_price": 0.30,
	"config_data": {
		"auto_lock": 1,
		"auto_lock_time": 60,
		"software": {"currentVersion": "5.17.0", "latestVersion": "5.18.1", "updateAvailable": true}
	}
}`

func decodeFixture(t *testing.T, raw string) wallbox.Payload {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var fields map[string]any
	require.NoError(t, dec.Decode(&fields))
	return wallbox.Payload{Raw: json.RawMessage(raw), Fields: fields, FetchedAt: time.Now()}
}

func chargerData(t *testing.T, raw string) *wallbox.ChargerData {
	return &wallbox.ChargerData{Payload: decodeFixture(t, raw)}
}

func statusData(t *testing.T, raw string) *wallbox.StatusData {
	return &wallbox.StatusData{Payload: decodeFixture(t, raw)}
}

func toMap(updates []Update) map[string]any {
	m := make(map[string]any, len(updates))
	for _, u := range updates {
		m[u.Path] = u.Value
	}
	return m
}

func TestCarConnected(t *testing.T) {
	for _, code := range []int64{14, 15, 161, 162, 163, 166, 209} {
		assert.False(t, CarConnected(code), "code %d", code)
	}
	for _, code := range []int64{0, 164, 165, 178, 181, 193, 194, 195, 210, 999, -1} {
		assert.True(t, CarConnected(code), "code %d", code)
	}
}

func TestFormatDateTime(t *testing.T) {
	testCases := []struct {
		name     string
		epoch    any
		expected string
	}{
		{name: "nil", epoch: nil, expected: ""},
		{name: "zero", epoch: 0, expected: ""},
		{name: "negative", epoch: -100, expected: ""},
		{name: "empty string", epoch: "", expected: ""},
		{name: "not a number", epoch: "yesterday", expected: ""},
		{name: "epoch", epoch: int64(1700000000), expected: "14.11.2023 22:13:20"},
		{name: "json number", epoch: json.Number("1700000000"), expected: "14.11.2023 22:13:20"},
		{name: "zero padded", epoch: 1, expected: "01.01.1970 00:00:01"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatDateTime(tc.epoch, time.UTC))
		})
	}
}

func TestFormatDateTime_Location(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, "14.11.2023 23:13:20", FormatDateTime(1700000000, berlin))
}

func TestMonthlyCost(t *testing.T) {
	assert.InDelta(t, 3.70, MonthlyCost(12345, 0.30), 1e-9)
	assert.InDelta(t, 0, MonthlyCost(0, 0.30), 1e-9)
	assert.InDelta(t, 1.23, MonthlyCost(4100, 0.3), 1e-9)
}

func TestMapPrimary_RoundTrip(t *testing.T) {
	data := chargerData(t, chargerFixture)
	updates, errs := MapPrimary(data, time.UTC)
	assert.Empty(t, errs)

	got := toMap(updates)
	for key, folder := range primaryFolders {
		original, ok := data.Get(key)
		require.True(t, ok, key)
		value, ok := got[folder+"."+key]
		require.True(t, ok, "missing %s.%s", folder, key)
		assert.True(t, parse.Equal(original, value), "%s: %v != %v", key, original, value)
	}

	assert.Equal(t, "14.11.2023 22:13:20", got["info.lastSyncDT"])
	assert.Equal(t, int64(1700000000), got["info.lastConnection"])
	assert.Equal(t, true, got["info.car_connected"])
	assert.Equal(t, got["charging.maxChargingCurrent"], got["control.maxChargingCurrent"])
	assert.Equal(t, int64(16), got["control.maxChargingCurrent"])
	assert.Equal(t, chargerFixture, got["info._rawData"])
}

func TestMapPrimary_Resume(t *testing.T) {
	updates, errs := MapPrimary(chargerData(t, chargerFixture), time.UTC)
	assert.Empty(t, errs)
	got := toMap(updates)

	assert.Equal(t, int64(1), got["chargingData.monthly.totalUsers"])
	assert.Equal(t, int64(12), got["chargingData.monthly.totalSessions"])
	assert.Equal(t, int64(36000), got["chargingData.monthly.chargingTime"])
	assert.Equal(t, int64(12345), got["chargingData.monthly.totalEnergy"])
	assert.Equal(t, int64(0), got["chargingData.monthly.totalMidEnergy"])
	assert.Equal(t, "kWh", got["chargingData.monthly.energyUnit"])
}

func TestMapPrimary_DisconnectedStatus(t *testing.T) {
	updates, _ := MapPrimary(chargerData(t, `{"status": 161}`), time.UTC)
	got := toMap(updates)

	assert.Equal(t, int64(161), got["info.status"])
	assert.Equal(t, false, got["info.car_connected"])
}

func TestMapPrimary_FieldFailuresAreIndependent(t *testing.T) {
	raw := `{
		"serialNumber": {"nested": true},
		"status": "unknown",
		"name": "Garage",
		"resume": {"totalEnergy": "100", "brandNewKey": 5},
		"lastConnection": 0
	}`
	updates, errs := MapPrimary(chargerData(t, raw), time.UTC)
	got := toMap(updates)

	assert.Len(t, errs, 3)
	assert.NotContains(t, got, "info.serialNumber")
	assert.NotContains(t, got, "info.car_connected")
	assert.NotContains(t, got, "chargingData.monthly.brandNewKey")

	assert.Equal(t, "Garage", got["info.name"])
	assert.Equal(t, "unknown", got["info.status"])
	assert.Equal(t, int64(100), got["chargingData.monthly.totalEnergy"])
	assert.Equal(t, "", got["info.lastSyncDT"])
	assert.Contains(t, got, "info._rawData")
}

func TestMapPrimary_Nil(t *testing.T) {
	updates, errs := MapPrimary(nil, time.UTC)
	assert.Empty(t, updates)
	assert.Empty(t, errs)
}

func TestMapExtended(t *testing.T) {
	updates, errs := MapExtended(statusData(t, statusFixture), chargerData(t, chargerFixture))
	assert.Empty(t, errs)
	got := toMap(updates)

	assert.Equal(t, 2500.0, got["chargingData.last_session.added_energy"])
	assert.Equal(t, int64(15), got["chargingData.last_session.added_range"])
	assert.InDelta(t, 3.70, got["chargingData.monthly.cost"], 1e-9)

	assert.Equal(t, int64(0), got["charging.charging_speed"])
	assert.Equal(t, 7.4, got["charging.charging_power"])
	assert.Equal(t, false, got["charging.finished"])
	assert.Equal(t, int64(5400), got["charging.charging_time"])

	assert.Equal(t, "5.17.0", got["info.software.currentVersion"])
	assert.Equal(t, "5.18.1", got["info.software.latestVersion"])
	assert.Equal(t, true, got["info.software.updateAvailable"])
	assert.Equal(t, int64(1), got["info.lock.auto_lock"])
	assert.Equal(t, int64(60), got["info.lock.auto_lock_time"])
	assert.Equal(t, statusFixture, got["info._rawDataExtended"])
}

func TestMapExtended_AddedEnergyPrecision(t *testing.T) {
	updates, _ := MapExtended(statusData(t, `{"added_energy": 1.1}`), nil)
	assert.Equal(t, 1100.0, toMap(updates)["chargingData.last_session.added_energy"])
}

func TestMapExtended_CostNeedsChargerSnapshot(t *testing.T) {
	status := statusData(t, statusFixture)

	updates, errs := MapExtended(status, nil)
	assert.Empty(t, errs)
	assert.NotContains(t, toMap(updates), "chargingData.monthly.cost")

	updates, errs = MapExtended(status, chargerData(t, `{"name": "no resume block"}`))
	assert.Empty(t, errs)
	assert.NotContains(t, toMap(updates), "chargingData.monthly.cost")
}

func TestMapExtended_MissingConfigData(t *testing.T) {
	updates, errs := MapExtended(statusData(t, `{"charging_power": 11, "finished": true}`), nil)
	got := toMap(updates)

	assert.Len(t, errs, len(extendedNested))
	assert.Equal(t, int64(11), got["charging.charging_power"])
	assert.Equal(t, true, got["charging.finished"])
}

func TestMappedPathsAreDeclared(t *testing.T) {
	for key, folder := range primaryFolders {
		_, ok := schema.Lookup(folder + "." + key)
		assert.True(t, ok, "%s.%s", folder, key)
	}
	for key, folder := range extendedFolders {
		_, ok := schema.Lookup(folder + "." + key)
		assert.True(t, ok, "%s.%s", folder, key)
	}
	for _, n := range extendedNested {
		_, ok := schema.Lookup(n.path)
		assert.True(t, ok, n.path)
	}

	primary, _ := MapPrimary(chargerData(t, chargerFixture), time.UTC)
	extended, _ := MapExtended(statusData(t, statusFixture), chargerData(t, chargerFixture))
	for _, u := range append(primary, extended...) {
		_, ok := schema.Lookup(u.Path)
		assert.True(t, ok, u.Path)
	}
}
