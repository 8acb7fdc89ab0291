package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/konorlevich/fileshelf/internal/file-service/apperr"
	"github.com/konorlevich/fileshelf/internal/file-service/database"
)

var (
	ErrEmptyFile     = apperr.Validationf("please select a file to upload")
	ErrCantGetFile   = errors.New("can't get file from db")
	ErrCantSaveFile  = errors.New("can't save file")
	ErrCantListFiles = errors.New("can't list files")
)

type MetaStorage interface {
	CreateFileRecord(ctx context.Context, f *database.FileRecord) error
	GetFileRecordByStoredName(ctx context.Context, storedName string) (*database.FileRecord, error)
	DeleteFileRecord(ctx context.Context, id uuid.UUID) error
	ListFileRecords(ctx context.Context) ([]*database.FileRecord, error)
	ListCategories(ctx context.Context) ([]*database.Category, error)
	ListSubCategories(ctx context.Context) ([]*database.SubCategory, error)
	ListSubCategoriesByCategory(ctx context.Context, categoryID uuid.UUID) ([]*database.SubCategory, error)
}

type FileStorage interface {
	Store(r io.Reader, originalName string) (string, int64, error)
	Load(storedName string) (io.ReadCloser, error)
	Exists(storedName string) (bool, error)
	Delete(storedName string) error
}

type TaxonomyResolver interface {
	ResolveCategory(ctx context.Context, selector, newName string) (*database.Category, error)
	ResolveSubCategory(ctx context.Context, category *database.Category, selector, newName string) (*database.SubCategory, error)
}

// Server sequences the blob store, the taxonomy resolver and the metadata
// repository. Upload is not transactional across the two stores: a blob
// written before a metadata failure stays on disk.
type Server struct {
	ms  MetaStorage
	fs  FileStorage
	tr  TaxonomyResolver
	l   *log.Entry
	obs Observer
	now func() time.Time
}

type Option func(s *Server)

func WithObserver(o Observer) Option {
	return func(s *Server) {
		if o != nil {
			s.obs = o
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func NewServer(ms MetaStorage, fs FileStorage, tr TaxonomyResolver, l *log.Entry, opts ...Option) *Server {
	s := &Server{
		ms:  ms,
		fs:  fs,
		tr:  tr,
		l:   l,
		obs: nopObserver{},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type UploadRequest struct {
	File         io.Reader
	Size         int64
	OriginalName string
	// ContentType is the client's hint; blank means DefaultContentType.
	ContentType         string
	Labels              string
	CategorySelector    string
	NewCategoryName     string
	SubCategorySelector string
	NewSubCategoryName  string
}

func (r *UploadRequest) fields() log.Fields {
	return log.Fields{
		"original_name":         r.OriginalName,
		"size":                  r.Size,
		"category_selector":     r.CategorySelector,
		"sub_category_selector": r.SubCategorySelector,
	}
}

// Upload stores the file and saves its record.
func (s *Server) Upload(ctx context.Context, req *UploadRequest) (f *database.FileRecord, err error) {
	started := time.Now()
	var written int64
	defer func() { s.obs.RecordUpload(time.Since(started), uint64(written), err) }()

	if req == nil || req.File == nil || req.Size <= 0 {
		return nil, ErrEmptyFile
	}
	l := s.l.WithFields(req.fields())

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = database.DefaultContentType
	}
	labels := ParseLabels(req.Labels)

	storedName, written, err := s.fs.Store(req.File, req.OriginalName)
	if err != nil {
		l.WithError(err).Error(ErrCantSaveFile)
		return nil, err
	}
	l = l.WithField("stored_name", storedName)

	category, err := s.tr.ResolveCategory(ctx, req.CategorySelector, req.NewCategoryName)
	if err != nil {
		l.WithError(err).Warn("category not resolved, stored blob is left orphaned")
		return nil, err
	}
	subCategory, err := s.tr.ResolveSubCategory(ctx, category, req.SubCategorySelector, req.NewSubCategoryName)
	if err != nil {
		l.WithError(err).Warn("sub category not resolved, stored blob is left orphaned")
		return nil, err
	}

	f = &database.FileRecord{
		OriginalFilename: req.OriginalName,
		StoredName:       storedName,
		ContentType:      contentType,
		Size:             written,
		UploadTime:       s.now(),
		Labels:           database.NewLabels(labels),
		Category:         category,
		SubCategory:      subCategory,
	}
	if err := s.ms.CreateFileRecord(ctx, f); err != nil {
		l.WithError(err).Error("can't save file record, stored blob is left orphaned")
		return nil, err
	}

	l.WithField("file_id", f.ID).Info("file saved")
	return f, nil
}

type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeDeleted
)

func (o Outcome) String() string {
	if o == OutcomeDeleted {
		return "deleted"
	}
	return "not found"
}

type DeleteResult struct {
	Outcome          Outcome
	StoredName       string
	OriginalFilename string
}

// Message is the human readable status shown to the user.
func (r *DeleteResult) Message() string {
	if r.Outcome == OutcomeDeleted {
		return "Successfully deleted file: " + r.OriginalFilename
	}
	return "File not found for deletion: " + r.StoredName
}

// Delete removes the blob and then the record. When the blob can't be
// removed the record is kept so that the deletion can be retried.
func (s *Server) Delete(ctx context.Context, storedName string) (res *DeleteResult, err error) {
	started := time.Now()
	defer func() { s.obs.RecordDelete(time.Since(started), err) }()

	l := s.l.WithField("stored_name", storedName)
	res = &DeleteResult{Outcome: OutcomeNotFound, StoredName: storedName}

	f, err := s.ms.GetFileRecordByStoredName(ctx, storedName)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			l.Warn("attempted to delete non-existent file")
			return res, nil
		}
		l.WithError(err).Error(ErrCantGetFile)
		return nil, err
	}
	res.OriginalFilename = f.OriginalFilename
	l = l.WithField("original_name", f.OriginalFilename)

	if err := s.fs.Delete(f.StoredName); err != nil {
		l.WithError(err).Error("can't delete blob, file record is kept")
		return nil, err
	}
	if err := s.ms.DeleteFileRecord(ctx, f.ID); err != nil {
		l.WithError(err).Error("can't delete file record")
		return nil, err
	}

	res.Outcome = OutcomeDeleted
	l.Info("file deleted")
	return res, nil
}

type Download struct {
	Content     io.ReadCloser
	Filename    string
	ContentType string
}

// Download opens the blob and recovers its presentation name and type from
// the record, falling back to the stored name and DefaultContentType.
func (s *Server) Download(ctx context.Context, storedName string) (d *Download, err error) {
	started := time.Now()
	defer func() { s.obs.RecordDownload(time.Since(started), err) }()

	l := s.l.WithField("stored_name", storedName)
	content, err := s.fs.Load(storedName)
	if err != nil {
		l.WithError(err).Info("can't load file")
		return nil, err
	}

	d = &Download{Content: content, Filename: storedName, ContentType: database.DefaultContentType}
	f, err := s.ms.GetFileRecordByStoredName(ctx, storedName)
	switch {
	case err == nil:
		d.Filename = f.OriginalFilename
		if f.ContentType != "" {
			d.ContentType = f.ContentType
		}
	case errors.Is(err, database.ErrRecordNotFound):
		l.Warn("file has no record, serving under stored name")
	default:
		l.WithError(err).Error(ErrCantGetFile)
	}
	return d, nil
}

// Exists reports whether the blob behind storedName is present.
func (s *Server) Exists(_ context.Context, storedName string) (bool, error) {
	return s.fs.Exists(storedName)
}

type Listing struct {
	Files         []*database.FileRecord
	Categories    []*database.Category
	SubCategories []*database.SubCategory
}

// SubCategoriesOf filters the listed sub categories by their category.
func (l *Listing) SubCategoriesOf(categoryID uuid.UUID) []*database.SubCategory {
	res := make([]*database.SubCategory, 0)
	for _, sc := range l.SubCategories {
		if sc.CategoryID == categoryID {
			res = append(res, sc)
		}
	}
	return res
}

func (l *Listing) SubCategoriesByCategory() map[uuid.UUID][]*database.SubCategory {
	res := make(map[uuid.UUID][]*database.SubCategory, len(l.Categories))
	for _, sc := range l.SubCategories {
		res[sc.CategoryID] = append(res[sc.CategoryID], sc)
	}
	return res
}

// List loads files, categories and sub categories concurrently.
func (s *Server) List(ctx context.Context) (*Listing, error) {
	res := &Listing{}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		res.Files, err = s.ms.ListFileRecords(egCtx)
		return err
	})
	eg.Go(func() (err error) {
		res.Categories, err = s.ms.ListCategories(egCtx)
		return err
	})
	eg.Go(func() (err error) {
		res.SubCategories, err = s.ms.ListSubCategories(egCtx)
		return err
	})
	if err := eg.Wait(); err != nil {
		s.l.WithError(err).Error(ErrCantListFiles)
		return nil, err
	}

	for _, sc := range res.SubCategories {
		if sc.Category == nil {
			s.l.WithFields(log.Fields{
				"sub_category_id":   sc.ID,
				"sub_category_name": sc.Name,
			}).Warn("sub category found with missing category association")
		}
	}
	s.l.WithFields(log.Fields{
		"files":          len(res.Files),
		"categories":     len(res.Categories),
		"sub_categories": len(res.SubCategories),
	}).Debug("listing fetched")
	return res, nil
}

// SubCategories lists the sub categories of one category.
func (s *Server) SubCategories(ctx context.Context, categoryID uuid.UUID) ([]*database.SubCategory, error) {
	res, err := s.ms.ListSubCategoriesByCategory(ctx, categoryID)
	if err != nil {
		s.l.WithField("category_id", categoryID).WithError(err).Error("can't list sub categories")
		return nil, err
	}
	return res, nil
}
