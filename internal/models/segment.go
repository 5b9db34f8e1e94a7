package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Recording is one recording location: a directory of segments produced
// by a single record session (or a chain of them, for timeshift rings).
type Recording struct {
	ID        ULID   `gorm:"primaryKey;type:varchar(26)"`
	Location  string `gorm:"uniqueIndex;size:256;not null"`
	Timeshift bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns a ULID primary key.
func (r *Recording) BeforeCreate(_ *gorm.DB) error {
	if r.ID.IsZero() {
		r.ID = NewULID()
	}
	return nil
}

// PIDInfo is one elementary stream entry in a segment's PID list.
type PIDInfo struct {
	PID    int `json:"pid"`
	Type   int `json:"type"`
	Format int `json:"format,omitempty"`
}

// PIDList stores the bounded per-segment PID set as a JSON column.
type PIDList []PIDInfo

// Value implements driver.Valuer.
func (l PIDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshaling pid list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *PIDList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into PIDList", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// SegmentRecord is the stored metadata of one on-disk segment.
type SegmentRecord struct {
	ID         ULID    `gorm:"primaryKey;type:varchar(26)"`
	Location   string  `gorm:"index:idx_segment_location_id,unique;size:256;not null"`
	SegmentID  uint64  `gorm:"index:idx_segment_location_id,unique;not null"`
	DurationMS int64   `gorm:"not null;default:0"`
	SizeBytes  uint64  `gorm:"not null;default:0"`
	Packets    uint32  `gorm:"not null;default:0"`
	PIDs       PIDList `gorm:"column:pids;type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// BeforeCreate assigns a ULID primary key.
func (s *SegmentRecord) BeforeCreate(_ *gorm.DB) error {
	if s.ID.IsZero() {
		s.ID = NewULID()
	}
	return nil
}
