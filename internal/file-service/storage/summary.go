package storage

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/konorlevich/fileshelf/internal/file-service/blob"
	"github.com/konorlevich/fileshelf/internal/file-service/database"
)

const noExtension = "N/A"

// Summary is the display-ready view of a file record.
type Summary struct {
	ID               uuid.UUID  `json:"id"`
	OriginalFilename string     `json:"original_filename"`
	StoredName       string     `json:"stored_name"`
	ContentType      string     `json:"content_type"`
	Extension        string     `json:"extension"`
	Size             int64      `json:"size"`
	HumanSize        string     `json:"human_size"`
	UploadTime       time.Time  `json:"upload_time"`
	CategoryID       *uuid.UUID `json:"category_id,omitempty"`
	Category         string     `json:"category"`
	SubCategoryID    *uuid.UUID `json:"sub_category_id,omitempty"`
	SubCategory      string     `json:"sub_category"`
	Labels           []string   `json:"labels"`
}

func Summarize(f *database.FileRecord) *Summary {
	s := &Summary{
		ID:               f.ID,
		OriginalFilename: f.OriginalFilename,
		StoredName:       f.StoredName,
		ContentType:      f.ContentType,
		Extension:        blob.Extension(f.OriginalFilename),
		Size:             f.Size,
		HumanSize:        humanize.Bytes(uint64(f.Size)),
		UploadTime:       f.UploadTime,
		Labels:           f.LabelValues(),
	}
	if s.Extension == "" {
		s.Extension = noExtension
	}
	if f.Category != nil {
		s.CategoryID = &f.Category.ID
		s.Category = f.Category.Name
	}
	if f.SubCategory != nil {
		s.SubCategoryID = &f.SubCategory.ID
		s.SubCategory = f.SubCategory.Name
	}
	return s
}

// UploadMessage is the status shown after a successful upload.
func (s *Summary) UploadMessage() string {
	sub := s.SubCategory
	if sub == "" {
		sub = "none"
	}
	return fmt.Sprintf("You successfully uploaded '%s' with Category: %s, SubCategory: %s, Labels: %v",
		s.OriginalFilename, s.Category, sub, s.Labels)
}
