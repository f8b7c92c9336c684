package model

import (
	"encoding/json"
	"time"
)

// StateObject is the declaration of one state path.
type StateObject struct {
	Path      string `gorm:"primaryKey;size:191"`
	Name      string `gorm:"size:256;not null"`
	Type      string `gorm:"size:16;not null"`
	Role      string `gorm:"size:64"`
	Unit      string `gorm:"size:16"`
	Read      bool   `gorm:"not null"`
	Write     bool   `gorm:"not null"`
	States    string `gorm:"type:text"` // JSON encoded code -> label table
	CreatedAt time.Time
}

// DecodeStates returns the code to label table, or nil when none is declared.
func (o StateObject) DecodeStates() (map[int]string, error) {
	if o.States == "" {
		return nil, nil
	}
	var states map[int]string
	if err := json.Unmarshal([]byte(o.States), &states); err != nil {
		return nil, err
	}
	return states, nil
}

// StateValue holds the current value of a state path.
type StateValue struct {
	Path      string    `gorm:"primaryKey;size:191"`
	Value     string    `gorm:"type:text;not null"` // JSON encoded
	Ack       bool      `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
