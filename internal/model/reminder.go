package model

import (
	"encoding/json"
	"fmt"
)

const (
	// DatabaseName identifies the reminder database across every backend.
	DatabaseName = "healthReminderDB"
	// ContainerName is the table, bucket or hash holding reminders.
	ContainerName = "reminders"
	// SchemaVersion is the container layout version requested on open.
	SchemaVersion = 1
)

// Reminder represents a scheduled health task. ID is the primary key; the
// store treats every other field as opaque data.
//
// Extra holds JSON-decoded values: after a round trip through any backend
// numbers are float64, arrays are []any and objects are map[string]any.
type Reminder struct {
	ID     int64          `gorm:"primaryKey;autoIncrement:false" json:"id" validate:"required"`
	Task   string         `gorm:"type:text" json:"task,omitempty"`
	Time   string         `gorm:"size:5" json:"time,omitempty" validate:"omitempty,datetime=15:04"`
	UserID string         `gorm:"index" json:"userId,omitempty"`
	Extra  map[string]any `gorm:"type:text;serializer:json" json:"-"`
}

// TableName pins the SQL table to the container name.
func (Reminder) TableName() string {
	return ContainerName
}

var namedKeys = map[string]struct{}{
	"id":     {},
	"task":   {},
	"time":   {},
	"userId": {},
}

// MarshalJSON flattens Extra next to the named fields.
func (r Reminder) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+len(namedKeys))
	for key, value := range r.Extra {
		if _, named := namedKeys[key]; named {
			continue
		}
		out[key] = value
	}
	out["id"] = r.ID
	if r.Task != "" {
		out["task"] = r.Task
	}
	if r.Time != "" {
		out["time"] = r.Time
	}
	if r.UserID != "" {
		out["userId"] = r.UserID
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the named fields by their exact keys and keeps every
// other key in Extra. Keys differing from a named field only in case are
// opaque.
func (r *Reminder) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var decoded Reminder
	for key, value := range raw {
		var err error
		switch key {
		case "id":
			err = json.Unmarshal(value, &decoded.ID)
		case "task":
			err = json.Unmarshal(value, &decoded.Task)
		case "time":
			err = json.Unmarshal(value, &decoded.Time)
		case "userId":
			err = json.Unmarshal(value, &decoded.UserID)
		default:
			var v any
			if err = json.Unmarshal(value, &v); err == nil {
				if decoded.Extra == nil {
					decoded.Extra = make(map[string]any, len(raw))
				}
				decoded.Extra[key] = v
			}
		}
		if err != nil {
			return fmt.Errorf("reminder field %q: %w", key, err)
		}
	}

	*r = decoded
	return nil
}
