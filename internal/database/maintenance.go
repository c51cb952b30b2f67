package database

import "time"

// ScopeSelector is one `key=value-or-glob` constraint of a maintenance
// window's scope. Keys in {host, service, env, region, tag}. Selectors of
// different keys combine with AND; multiple values for the same key
// combine with OR.
type ScopeSelector struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
	// Regex, when set, is an alternative compiled match for host/service
	// keys in addition to exact/glob matching.
	Regex string `json:"regex,omitempty"`
}

// Scope is the full selector list of a maintenance window, stored as JSONB.
type Scope []ScopeSelector

// MaintenanceWindow is a (scope, time range, mode) tuple that suppresses,
// downgrades, or digests matching alerts while active.
type MaintenanceWindow struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	UUID string `gorm:"uniqueIndex;size:36;not null" json:"uuid"`

	Source           MaintenanceSource `gorm:"type:varchar(16);not null" json:"source"`
	ExternalEventID  string            `gorm:"size:255" json:"external_event_id,omitempty"`

	Title     string `gorm:"type:varchar(500)" json:"title"`
	Organizer string `gorm:"type:varchar(320)" json:"organizer,omitempty"`

	StartAt  time.Time `gorm:"not null;index" json:"start_at"`
	EndAt    time.Time `gorm:"not null;index" json:"end_at"`
	Timezone string    `gorm:"size:64;default:'UTC'" json:"timezone"`

	ScopeJSON JSONB `gorm:"column:scope;type:jsonb" json:"scope"`

	SuppressMode SuppressMode `gorm:"type:varchar(16);not null;default:'mute'" json:"suppress_mode"`
	IsActive     bool         `gorm:"default:true;index" json:"is_active"`

	IsRecurring    bool   `gorm:"default:false" json:"is_recurring"`
	RecurrenceRule string `gorm:"type:text" json:"recurrence_rule,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MaintenanceWindow) TableName() string {
	return "maintenance_windows"
}

// Scope decodes the stored scope selectors.
func (w *MaintenanceWindow) Scope() Scope {
	raw, ok := w.ScopeJSON["selectors"]
	if !ok {
		return nil
	}
	if typed, ok := raw.(Scope); ok {
		return typed
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make(Scope, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sel := ScopeSelector{}
		if k, ok := m["key"].(string); ok {
			sel.Key = k
		}
		if r, ok := m["regex"].(string); ok {
			sel.Regex = r
		}
		if vs, ok := m["values"].([]interface{}); ok {
			for _, v := range vs {
				if s, ok := v.(string); ok {
					sel.Values = append(sel.Values, s)
				}
			}
		}
		out = append(out, sel)
	}
	return out
}

// SetScope encodes selectors into the stored JSONB form.
func (w *MaintenanceWindow) SetScope(s Scope) {
	if w.ScopeJSON == nil {
		w.ScopeJSON = JSONB{}
	}
	w.ScopeJSON["selectors"] = s
}

// ActiveAt reports whether the window covers instant t.
func (w *MaintenanceWindow) ActiveAt(t time.Time) bool {
	return w.IsActive && !t.Before(w.StartAt) && t.Before(w.EndAt)
}

// MaintenanceMatch records, for explainability, that an event or incident
// matched an active window. At least one of IncidentID/AlertEventID is set.
type MaintenanceMatch struct {
	ID uint `gorm:"primaryKey" json:"id"`

	WindowID     uint  `gorm:"not null;index" json:"window_id"`
	IncidentID   *uint `gorm:"index" json:"incident_id,omitempty"`
	AlertEventID *uint `gorm:"index" json:"alert_event_id,omitempty"`

	// MatchReason enumerates which selectors matched with which values.
	MatchReason JSONB `gorm:"type:jsonb" json:"match_reason"`

	CreatedAt time.Time `json:"created_at"`
}

func (MaintenanceMatch) TableName() string {
	return "maintenance_matches"
}
