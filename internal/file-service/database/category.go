package database

import "github.com/google/uuid"

type Category struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey;default:(gen_random_uuid())"`
	Name          string         `gorm:"not null;uniqueIndex"`
	SubCategories []*SubCategory `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}
