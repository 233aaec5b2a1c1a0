package domain

import "time"

// Schedule asks for [StartReprocessTime, EndReprocessTime) of one scope to be
// rated again. CurrentReprocessTime is nil until the first window completes.
type Schedule struct {
	ID                   int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Identifier           string     `json:"identifier" gorm:"column:identifier;type:varchar(256);not null;index:ix_reprocessing_schedule_lookup,priority:1"`
	Reason               string     `json:"reason" gorm:"column:reason;type:text;not null"`
	StartReprocessTime   time.Time  `json:"start_reprocess_time" gorm:"column:start_reprocess_time;not null;index:ix_reprocessing_schedule_lookup,priority:2"`
	EndReprocessTime     time.Time  `json:"end_reprocess_time" gorm:"column:end_reprocess_time;not null;index:ix_reprocessing_schedule_lookup,priority:3"`
	CurrentReprocessTime *time.Time `json:"current_reprocess_time" gorm:"column:current_reprocess_time"`
	CreatedAt            time.Time  `json:"created_at" gorm:"column:created_at;not null"`
}

// TableName sets the database table name.
func (Schedule) TableName() string { return "storage_scope_reprocessing_schedule" }

// Finished reports whether the whole window has been reprocessed.
func (s Schedule) Finished() bool {
	return s.CurrentReprocessTime != nil && !s.CurrentReprocessTime.Before(s.EndReprocessTime)
}

// Overlaps reports whether the half-open windows of s and [start, end) intersect.
func (s Schedule) Overlaps(start, end time.Time) bool {
	return start.Before(s.EndReprocessTime) && s.StartReprocessTime.Before(end)
}

func (s Schedule) Localize() Schedule {
	s.StartReprocessTime = s.StartReprocessTime.In(time.Local)
	s.EndReprocessTime = s.EndReprocessTime.In(time.Local)
	if s.CurrentReprocessTime != nil {
		current := s.CurrentReprocessTime.In(time.Local)
		s.CurrentReprocessTime = &current
	}
	s.CreatedAt = s.CreatedAt.In(time.Local)
	return s
}
