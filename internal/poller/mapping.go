package poller

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"wallbox-bridge/internal/parse"
	"wallbox-bridge/internal/schema"
	"wallbox-bridge/internal/wallbox"
)

// Update is one state value derived from a vendor payload.
type Update struct {
	Path  string
	Value any
}

const dateTimeLayout = "02.01.2006 15:04:05"

// primaryFolders places the direct fields of the charger payload in the tree.
var primaryFolders = map[string]string{
	"serialNumber":       "info",
	"uid":                "info",
	"name":               "info",
	"status":             "info",
	"chargerType":        "info",
	"lastConnection":     "info",
	"powerSharingStatus": "info",

	"stateOfCharge":       "charging",
	"maxChgCurrent":       "charging",
	"maxAvailableCurrent": "charging",
	"maxChargingCurrent":  "charging",
	"chargerLoadName":     "charging",
	"chargerLoadId":       "charging",
	"chargingType":        "charging",
	"connectorType":       "charging",

	"ocppConnectionStatus":  "connection",
	"ocppReady":             "connection",
	"wifiSignal":            "connection",
	"connectionType":        "connection",
	"protocolCommunication": "connection",

	"midEnabled":      "connection.mid",
	"midMargin":       "connection.mid",
	"midMarginUnit":   "connection.mid",
	"midSerialNumber": "connection.mid",
	"midStatus":       "connection.mid",

	"locked": "control",
}

// extendedFolders places the direct fields of the status payload.
var extendedFolders = map[string]string{
	"charging_speed": "charging",
	"charging_power": "charging",
	"finished":       "charging",
	"charging_time":  "charging",
	"added_range":    "chargingData.last_session",
}

// extendedNested maps values inside config_data.
var extendedNested = []struct {
	path string
	keys []string
}{
	{"info.software.currentVersion", []string{"config_data", "software", "currentVersion"}},
	{"info.software.latestVersion", []string{"config_data", "software", "latestVersion"}},
	{"info.software.updateAvailable", []string{"config_data", "software", "updateAvailable"}},
	{"info.lock.auto_lock", []string{"config_data", "auto_lock"}},
	{"info.lock.auto_lock_time", []string{"config_data", "auto_lock_time"}},
}

// disconnectedCodes are the status codes for which no car is attached.
var disconnectedCodes = map[int64]bool{
	14:  true,
	15:  true,
	161: true,
	162: true,
	163: true,
	166: true,
	209: true,
}

// CarConnected derives the car presence from a status code. Unknown codes
// count as connected.
func CarConnected(status int64) bool {
	return !disconnectedCodes[status]
}

// FormatDateTime renders epoch seconds as local "DD.MM.YYYY HH:MM:SS". Unset,
// zero, negative or non-numeric input yields an empty string.
func FormatDateTime(epoch any, loc *time.Location) string {
	f, ok := parse.Float(epoch)
	if !ok || f <= 0 {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).In(loc).Format(dateTimeLayout)
}

// MonthlyCost computes the cost of the monthly energy in the currency of the
// depot price, rounded to two decimals. totalEnergy is in Wh.
func MonthlyCost(totalEnergy, depotPrice float64) float64 {
	return math.Round(totalEnergy*depotPrice/1000*100) / 100
}

type updates struct {
	list []Update
	errs []error
}

func (u *updates) add(path string, value any) {
	if _, ok := schema.Lookup(path); !ok {
		u.errs = append(u.errs, fmt.Errorf("%s: no such state", path))
		return
	}
	u.list = append(u.list, Update{Path: path, Value: value})
}

func (u *updates) fail(format string, args ...any) {
	u.errs = append(u.errs, fmt.Errorf(format, args...))
}

// MapPrimary derives the state values of a charger payload. A field that
// cannot be mapped is reported in the returned errors and skipped; it never
// prevents the remaining fields from being mapped.
func MapPrimary(c *wallbox.ChargerData, loc *time.Location) ([]Update, []error) {
	var u updates
	if c == nil {
		return nil, nil
	}

	u.add("info._rawData", string(c.Raw))

	for _, key := range sortedKeys(c.Fields) {
		raw := c.Fields[key]

		if key == "resume" {
			mapResume(&u, raw)
			continue
		}

		folder, ok := primaryFolders[key]
		if !ok {
			continue
		}
		value, err := scalar(raw)
		if err != nil {
			u.fail("%s: %v", key, err)
			continue
		}
		u.add(folder+"."+key, value)

		switch key {
		case "lastConnection":
			u.add("info.lastSyncDT", FormatDateTime(value, loc))
		case "status":
			code, ok := parse.Int(value)
			if !ok {
				u.fail("status: code %v is not a number", value)
				continue
			}
			u.add("info.car_connected", CarConnected(code))
		case "maxChargingCurrent":
			u.add("control.maxChargingCurrent", value)
		}
	}
	return u.list, u.errs
}

func mapResume(u *updates, raw any) {
	block, ok := raw.(map[string]any)
	if !ok {
		u.fail("resume: not an object")
		return
	}
	for _, key := range sortedKeys(block) {
		value, err := scalar(block[key])
		if err != nil {
			u.fail("resume.%s: %v", key, err)
			continue
		}
		if n, ok := parse.Int(value); ok {
			value = n
		}
		u.add("chargingData.monthly."+key, value)
	}
}

// MapExtended derives the state values of a status payload. The monthly cost
// needs the resume block of the charger payload and is skipped while charger
// is nil or carries no resume block.
func MapExtended(s *wallbox.StatusData, charger *wallbox.ChargerData) ([]Update, []error) {
	var u updates
	if s == nil {
		return nil, nil
	}

	u.add("info._rawDataExtended", string(s.Raw))

	for _, key := range sortedKeys(s.Fields) {
		raw := s.Fields[key]

		if key == "added_energy" {
			kwh, ok := parse.Float(raw)
			if !ok {
				u.fail("added_energy: %v is not a number", raw)
				continue
			}
			u.add("chargingData.last_session.added_energy", math.Round(kwh*1000*1000)/1000)
			continue
		}

		folder, ok := extendedFolders[key]
		if !ok {
			continue
		}
		value, err := scalar(raw)
		if err != nil {
			u.fail("%s: %v", key, err)
			continue
		}
		u.add(folder+"."+key, value)
	}

	if resume, ok := charger.Resume(); ok {
		mapCost(&u, resume, s)
	}

	for _, n := range extendedNested {
		raw, ok := s.Lookup(n.keys...)
		if !ok {
			u.fail("%s: missing in status payload", n.path)
			continue
		}
		value, err := scalar(raw)
		if err != nil {
			u.fail("%s: %v", n.path, err)
			continue
		}
		u.add(n.path, value)
	}
	return u.list, u.errs
}

func mapCost(u *updates, resume map[string]any, s *wallbox.StatusData) {
	total, ok := parse.Float(resume["totalEnergy"])
	if !ok {
		u.fail("monthly cost: totalEnergy %v is not a number", resume["totalEnergy"])
		return
	}
	price, ok := s.DepotPrice()
	if !ok {
		u.fail("monthly cost: depot_price missing or not a number")
		return
	}
	u.add("chargingData.monthly.cost", MonthlyCost(total, price))
}

// scalar converts a decoded JSON value to a state value. json.Number becomes
// int64 or float64; objects and arrays are rejected.
func scalar(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.String())
		}
		return f, nil
	case map[string]any, []any:
		return nil, fmt.Errorf("value is not a scalar")
	}
	return v, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
