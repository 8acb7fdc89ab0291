package database

import "github.com/google/uuid"

// SubCategory names are unique within their category only.
type SubCategory struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:(gen_random_uuid())"`
	Name       string    `gorm:"not null;index:,unique,composite:category_sub_category"`
	CategoryID uuid.UUID `gorm:"type:uuid;not null;index:,unique,composite:category_sub_category"`
	Category   *Category
}
