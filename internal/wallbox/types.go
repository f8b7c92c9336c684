package wallbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"wallbox-bridge/internal/parse"
)

// Payload is one decoded vendor object. Fields keep the shape the vendor
// delivered: absent keys stay absent and numbers are json.Number.
type Payload struct {
	Raw       json.RawMessage
	Fields    map[string]any
	FetchedAt time.Time
}

// Get returns a top-level field.
func (p *Payload) Get(key string) (any, bool) {
	if p == nil || p.Fields == nil {
		return nil, false
	}
	v, ok := p.Fields[key]
	return v, ok
}

// Lookup walks nested objects, e.g. Lookup("config_data", "software", "currentVersion").
func (p *Payload) Lookup(keys ...string) (any, bool) {
	if p == nil {
		return nil, false
	}
	var cur any = p.Fields
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ChargerData is the primary payload (chargerData object of PUT v2/charger/{id}).
type ChargerData struct {
	Payload
}

// Resume returns the nested monthly aggregate block.
func (c *ChargerData) Resume() (map[string]any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.Get("resume")
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// Locked returns the lock flag (1 locked, 0 unlocked).
func (c *ChargerData) Locked() (int64, bool) {
	if c == nil {
		return 0, false
	}
	v, ok := c.Get("locked")
	if !ok {
		return 0, false
	}
	return parse.Int(v)
}

// Status returns the vendor status code.
func (c *ChargerData) Status() (int64, bool) {
	if c == nil {
		return 0, false
	}
	v, ok := c.Get("status")
	if !ok {
		return 0, false
	}
	return parse.Int(v)
}

// StatusData is the extended payload of GET chargers/status/{id}.
type StatusData struct {
	Payload
}

// DepotPrice returns the configured energy price.
func (s *StatusData) DepotPrice() (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.Get("depot_price")
	if !ok {
		return 0, false
	}
	return parse.Float(v)
}

// Action is a remote-action code.
type Action int

const (
	ActionResume       Action = 1
	ActionPause        Action = 2
	ActionReboot       Action = 3
	ActionFactoryReset Action = 4
	ActionUpdate       Action = 5
)

func (a Action) String() string {
	switch a {
	case ActionResume:
		return "resume"
	case ActionPause:
		return "pause"
	case ActionReboot:
		return "reboot"
	case ActionFactoryReset:
		return "factory-reset"
	case ActionUpdate:
		return "update"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ActionResult distinguishes an accepted action from one the charger was
// already in.
type ActionResult int

const (
	ActionAccepted ActionResult = iota
	ActionAlreadyApplied
)

func (r ActionResult) String() string {
	if r == ActionAlreadyApplied {
		return "already applied"
	}
	return "accepted"
}

type tokenResponse struct {
	JWT   string `json:"jwt"`
	Error bool   `json:"error"`
	Msg   string `json:"msg"`
}

type chargerResponse struct {
	Data *struct {
		ChargerData json.RawMessage `json:"chargerData"`
	} `json:"data"`
}

// messageKeys are the only keys a vendor error body carries.
var messageKeys = map[string]bool{
	"msg":     true,
	"message": true,
	"error":   true,
	"status":  true,
	"code":    true,
}

// vendorMessage extracts the message of a message-only error body. ok is
// false when the body carries any data field.
func vendorMessage(fields map[string]any) (string, bool) {
	if len(fields) == 0 {
		return "", false
	}
	for k := range fields {
		if !messageKeys[k] {
			return "", false
		}
	}
	for _, k := range []string{"msg", "message"} {
		if s, ok := fields[k].(string); ok {
			return s, true
		}
	}
	return "", false
}

func decodePayload(raw []byte, fetchedAt time.Time) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Payload{}, err
	}
	if fields == nil {
		return Payload{}, fmt.Errorf("payload is not an object")
	}
	return Payload{Raw: json.RawMessage(raw), Fields: fields, FetchedAt: fetchedAt}, nil
}
