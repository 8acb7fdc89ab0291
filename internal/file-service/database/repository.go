package database

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/konorlevich/fileshelf/internal/file-service/apperr"
)

// Repository is the only writer of categories, sub categories and file
// records. File record reads always preload Category, SubCategory and Labels.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateCategory(ctx context.Context, name string) (*Category, error) {
	c := &Category{Name: name}
	return c, r.db.WithContext(ctx).Create(c).Error
}

func (r *Repository) GetCategory(ctx context.Context, id uuid.UUID) (*Category, error) {
	c := &Category{}
	return c, r.db.WithContext(ctx).First(c, "id = ?", id).Error
}

func (r *Repository) FindCategoryByName(ctx context.Context, name string) (*Category, error) {
	c := &Category{}
	return c, r.db.WithContext(ctx).First(c, "name = ?", name).Error
}

func (r *Repository) ListCategories(ctx context.Context) ([]*Category, error) {
	var res []*Category
	return res, r.db.WithContext(ctx).Order("name").Find(&res).Error
}

// DeleteCategory removes the category together with its sub categories.
// File records pointing at either lose the reference.
func (r *Repository) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&FileRecord{}).
			Where("category_id = ?", id).
			Updates(map[string]interface{}{"category_id": nil, "sub_category_id": nil}).Error; err != nil {
			return err
		}
		if err := tx.Where("category_id = ?", id).Delete(&SubCategory{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Category{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

func (r *Repository) CreateSubCategory(ctx context.Context, categoryID uuid.UUID, name string) (*SubCategory, error) {
	s := &SubCategory{Name: name, CategoryID: categoryID}
	return s, r.db.WithContext(ctx).Omit(clause.Associations).Create(s).Error
}

func (r *Repository) GetSubCategory(ctx context.Context, id uuid.UUID) (*SubCategory, error) {
	s := &SubCategory{}
	return s, r.db.WithContext(ctx).Preload("Category").First(s, "id = ?", id).Error
}

func (r *Repository) FindSubCategory(ctx context.Context, categoryID uuid.UUID, name string) (*SubCategory, error) {
	s := &SubCategory{}
	return s, r.db.WithContext(ctx).
		Preload("Category").
		First(s, "category_id = ? AND name = ?", categoryID, name).Error
}

func (r *Repository) ListSubCategories(ctx context.Context) ([]*SubCategory, error) {
	var res []*SubCategory
	return res, r.db.WithContext(ctx).Preload("Category").Order("name").Find(&res).Error
}

func (r *Repository) ListSubCategoriesByCategory(ctx context.Context, categoryID uuid.UUID) ([]*SubCategory, error) {
	var res []*SubCategory
	return res, r.db.WithContext(ctx).
		Preload("Category").
		Where("category_id = ?", categoryID).
		Order("name").
		Find(&res).Error
}

// CreateFileRecord saves the record with its labels. A sub category that
// belongs to another category than the record's one is rejected.
func (r *Repository) CreateFileRecord(ctx context.Context, f *FileRecord) error {
	if f.Category != nil {
		f.CategoryID = &f.Category.ID
	}
	if f.SubCategory != nil {
		f.SubCategoryID = &f.SubCategory.ID
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if f.SubCategoryID != nil {
			if f.CategoryID == nil {
				return apperr.Validationf("sub category %s given without category", f.SubCategoryID)
			}
			s := &SubCategory{}
			if err := tx.First(s, "id = ?", *f.SubCategoryID).Error; err != nil {
				return err
			}
			if s.CategoryID != *f.CategoryID {
				return apperr.Validationf("subcategory does not belong to category")
			}
		}
		return tx.Omit("Category", "SubCategory").Create(f).Error
	})
}

func (r *Repository) GetFileRecord(ctx context.Context, id uuid.UUID) (*FileRecord, error) {
	f := &FileRecord{}
	return f, r.withFileRelations(ctx).First(f, "id = ?", id).Error
}

func (r *Repository) GetFileRecordByStoredName(ctx context.Context, storedName string) (*FileRecord, error) {
	f := &FileRecord{}
	return f, r.withFileRelations(ctx).First(f, "stored_name = ?", storedName).Error
}

func (r *Repository) ListFileRecords(ctx context.Context) ([]*FileRecord, error) {
	var res []*FileRecord
	return res, r.withFileRelations(ctx).Order("upload_time, id").Find(&res).Error
}

// DeleteFileRecord removes the record and its labels.
func (r *Repository) DeleteFileRecord(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_record_id = ?", id).Delete(&Label{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&FileRecord{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

func (r *Repository) withFileRelations(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Category").
		Preload("SubCategory").
		Preload("SubCategory.Category").
		Preload("Labels", func(db *gorm.DB) *gorm.DB {
			return db.Order("position")
		})
}
