package database

import (
	"time"

	"github.com/google/uuid"
)

const DefaultContentType = "application/octet-stream"

type FileRecord struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey;default:(gen_random_uuid())"`
	OriginalFilename string    `gorm:"not null"`
	StoredName       string    `gorm:"not null;uniqueIndex"`
	ContentType      string    `gorm:"not null"`
	Size             int64
	UploadTime       time.Time    `gorm:"not null;index"`
	Labels           []*Label     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CategoryID       *uuid.UUID   `gorm:"type:uuid"`
	Category         *Category    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
	SubCategoryID    *uuid.UUID   `gorm:"type:uuid"`
	SubCategory      *SubCategory `gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// LabelValues returns the label texts in the order they were given.
func (f *FileRecord) LabelValues() []string {
	res := make([]string, 0, len(f.Labels))
	for _, l := range f.Labels {
		res = append(res, l.Value)
	}
	return res
}

// Label is one entry of a file record's label list. Duplicates are allowed.
type Label struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:(gen_random_uuid())"`
	FileRecordID uuid.UUID `gorm:"type:uuid;not null;index"`
	Position     int       `gorm:"not null"`
	Value        string    `gorm:"not null"`
}

func (Label) TableName() string {
	return "file_record_label"
}

// NewLabels builds label rows for values, keeping their order.
func NewLabels(values []string) []*Label {
	res := make([]*Label, 0, len(values))
	for i, v := range values {
		res = append(res, &Label{Position: i, Value: v})
	}
	return res
}
