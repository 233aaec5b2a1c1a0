package domain

import "time"

// Scope is the processing state of one billable boundary. Fetcher, Collector
// and ScopeKey are nil on rows written before those columns existed.
type Scope struct {
	ID                        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Identifier                string    `json:"identifier" gorm:"column:identifier;type:varchar(256);not null;uniqueIndex:ux_storage_states_scope,priority:1"`
	ScopeKey                  *string   `json:"scope_key" gorm:"column:scope_key;type:varchar(40);uniqueIndex:ux_storage_states_scope,priority:2"`
	Collector                 *string   `json:"collector" gorm:"column:collector;type:varchar(40);uniqueIndex:ux_storage_states_scope,priority:3"`
	Fetcher                   *string   `json:"fetcher" gorm:"column:fetcher;type:varchar(40);uniqueIndex:ux_storage_states_scope,priority:4"`
	LastProcessedTimestamp    time.Time `json:"last_processed_timestamp" gorm:"column:last_processed_timestamp;not null"`
	Active                    bool      `json:"active" gorm:"column:active;not null;default:true"`
	ScopeActivationToggleDate time.Time `json:"scope_activation_toggle_date" gorm:"column:scope_activation_toggle_date;not null"`
}

// TableName sets the database table name.
func (Scope) TableName() string { return "storage_states" }

func (s Scope) ScopeKeyValue() string  { return deref(s.ScopeKey) }
func (s Scope) CollectorValue() string { return deref(s.Collector) }
func (s Scope) FetcherValue() string   { return deref(s.Fetcher) }

// Localize converts stored UTC timestamps to the process time zone.
func (s Scope) Localize() Scope {
	s.LastProcessedTimestamp = s.LastProcessedTimestamp.In(time.Local)
	s.ScopeActivationToggleDate = s.ScopeActivationToggleDate.In(time.Local)
	return s
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func StringPtr(v string) *string { return &v }
