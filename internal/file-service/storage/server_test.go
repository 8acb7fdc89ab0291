package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konorlevich/fileshelf/internal/file-service/apperr"
	"github.com/konorlevich/fileshelf/internal/file-service/blob"
	"github.com/konorlevich/fileshelf/internal/file-service/database"
	"github.com/konorlevich/fileshelf/internal/file-service/taxonomy"
)

const uploadDir = "/uploads"

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func getLogger() *log.Entry {
	l := log.New()
	l.SetLevel(log.FatalLevel)
	return l.WithField("in_test", true)
}

type env struct {
	server *Server
	repo   *database.Repository
	blobs  *blob.Storage
	fs     afero.Fs
	obs    *countingObserver
}

func newEnv(t *testing.T, fsys afero.Fs) *env {
	t.Helper()
	db, err := database.NewDb(filepath.Join(t.TempDir(), "test.db"), getLogger(), false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if fsys == nil {
		fsys = afero.NewMemMapFs()
	}
	blobs, err := blob.NewStorage(fsys, uploadDir, getLogger())
	require.NoError(t, err)
	repo := database.NewRepository(db)
	obs := &countingObserver{}
	s := NewServer(repo, blobs, taxonomy.NewResolver(repo, getLogger()), getLogger(),
		WithObserver(obs),
		WithClock(func() time.Time { return fixedNow }))
	return &env{server: s, repo: repo, blobs: blobs, fs: fsys, obs: obs}
}

func (e *env) blobCount(t *testing.T) int {
	t.Helper()
	files, err := afero.ReadDir(e.fs, uploadDir)
	require.NoError(t, err)
	return len(files)
}

func uploadRequest(content, name string) *UploadRequest {
	return &UploadRequest{
		File:             strings.NewReader(content),
		Size:             int64(len(content)),
		OriginalName:     name,
		CategorySelector: taxonomy.SelectorNew,
		NewCategoryName:  "Docs",
	}
}

type countingObserver struct {
	uploads, uploadErrors     int
	deletes, deleteErrors     int
	downloads, downloadErrors int
	uploadedBytes             uint64
}

func (o *countingObserver) RecordUpload(_ time.Duration, size uint64, err error) {
	o.uploads++
	if err != nil {
		o.uploadErrors++
		return
	}
	o.uploadedBytes += size
}

func (o *countingObserver) RecordDelete(_ time.Duration, err error) {
	o.deletes++
	if err != nil {
		o.deleteErrors++
	}
}

func (o *countingObserver) RecordDownload(_ time.Duration, err error) {
	o.downloads++
	if err != nil {
		o.downloadErrors++
	}
}

func TestServer_Upload(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	f, err := e.server.Upload(ctx, &UploadRequest{
		File:             strings.NewReader("hello"),
		Size:             5,
		OriginalName:     "a.txt",
		Labels:           "x, y ,,z",
		CategorySelector: "new",
		NewCategoryName:  "Docs",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, f.ID)
	assert.Equal(t, "a.txt", f.OriginalFilename)
	assert.Equal(t, database.DefaultContentType, f.ContentType)
	assert.Equal(t, int64(5), f.Size)
	assert.True(t, fixedNow.Equal(f.UploadTime))
	assert.True(t, strings.HasSuffix(f.StoredName, ".txt"))
	if diff := cmp.Diff([]string{"x", "y", "z"}, f.LabelValues()); diff != "" {
		t.Errorf("labels\n%s", diff)
	}
	require.NotNil(t, f.Category)
	assert.Equal(t, "Docs", f.Category.Name)
	assert.Nil(t, f.SubCategory)

	t.Run("blob content", func(t *testing.T) {
		rc, err := e.blobs.Load(f.StoredName)
		require.NoError(t, err)
		defer rc.Close()
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(got))
	})
	t.Run("saved record", func(t *testing.T) {
		got, err := e.repo.GetFileRecordByStoredName(ctx, f.StoredName)
		require.NoError(t, err)
		assert.Equal(t, f.ID, got.ID)
		assert.Equal(t, []string{"x", "y", "z"}, got.LabelValues())
		require.NotNil(t, got.Category)
		assert.Equal(t, "Docs", got.Category.Name)
	})
	t.Run("observed", func(t *testing.T) {
		assert.Equal(t, 1, e.obs.uploads)
		assert.Equal(t, 0, e.obs.uploadErrors)
		assert.Equal(t, uint64(5), e.obs.uploadedBytes)
	})
}

func TestServer_Upload_SubCategoryAndHint(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	first, err := e.server.Upload(ctx, &UploadRequest{
		File:                bytes.NewReader([]byte{0x89, 'P', 'N', 'G'}),
		Size:                4,
		OriginalName:        "photo.png",
		ContentType:         " image/png ",
		CategorySelector:    "new",
		NewCategoryName:     "Media",
		SubCategorySelector: "new",
		NewSubCategoryName:  "Photos",
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", first.ContentType)
	require.NotNil(t, first.SubCategory)
	assert.Equal(t, "Photos", first.SubCategory.Name)

	second, err := e.server.Upload(ctx, &UploadRequest{
		File:                strings.NewReader("again"),
		Size:                5,
		OriginalName:        "photo2.png",
		CategorySelector:    first.Category.ID.String(),
		SubCategorySelector: first.SubCategory.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, first.Category.ID, second.Category.ID)
	assert.Equal(t, first.SubCategory.ID, second.SubCategory.ID)
	assert.NotEqual(t, first.StoredName, second.StoredName)
}

func TestServer_Upload_Failures(t *testing.T) {
	tests := []struct {
		name      string
		req       func(t *testing.T, e *env) *UploadRequest
		fs        func() afero.Fs
		wantErr   error
		wantBlobs int
	}{
		{name: "nil request", req: func(*testing.T, *env) *UploadRequest { return nil },
			wantErr: apperr.ErrValidation},
		{name: "empty file", req: func(*testing.T, *env) *UploadRequest { return uploadRequest("", "a.txt") },
			wantErr: apperr.ErrValidation},
		{name: "traversal", req: func(*testing.T, *env) *UploadRequest { return uploadRequest("x", "../a.txt") },
			wantErr: apperr.ErrValidation},
		{name: "no category, blob stays", req: func(*testing.T, *env) *UploadRequest {
			r := uploadRequest("x", "a.txt")
			r.CategorySelector = ""
			return r
		}, wantErr: apperr.ErrValidation, wantBlobs: 1},
		{name: "new category without name", req: func(*testing.T, *env) *UploadRequest {
			r := uploadRequest("x", "a.txt")
			r.NewCategoryName = " "
			return r
		}, wantErr: apperr.ErrValidation, wantBlobs: 1},
		{name: "sub category of another category", req: func(t *testing.T, e *env) *UploadRequest {
			other, err := e.repo.CreateCategory(context.Background(), "Other")
			require.NoError(t, err)
			sub, err := e.repo.CreateSubCategory(context.Background(), other.ID, "Foreign")
			require.NoError(t, err)
			r := uploadRequest("x", "a.txt")
			r.SubCategorySelector = sub.ID.String()
			return r
		}, wantErr: apperr.ErrValidation, wantBlobs: 1},
		{name: "storage failure", fs: func() afero.Fs {
			base := afero.NewMemMapFs()
			_ = base.MkdirAll(uploadDir, 0o755)
			return afero.NewReadOnlyFs(base)
		}, req: func(*testing.T, *env) *UploadRequest { return uploadRequest("x", "a.txt") },
			wantErr: apperr.ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fsys afero.Fs
			if tt.fs != nil {
				fsys = tt.fs()
			}
			e := newEnv(t, fsys)
			ctx := context.Background()

			f, err := e.server.Upload(ctx, tt.req(t, e))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, f)

			assert.Equal(t, tt.wantBlobs, e.blobCount(t))
			files, err := e.repo.ListFileRecords(ctx)
			require.NoError(t, err)
			assert.Empty(t, files, "no metadata should be written")
			assert.Equal(t, 1, e.obs.uploadErrors)
		})
	}
}

func TestServer_Upload_StorageFailureSkipsTaxonomy(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll(uploadDir, 0o755))
	e := newEnv(t, afero.NewReadOnlyFs(base))

	_, err := e.server.Upload(context.Background(), uploadRequest("x", "a.txt"))
	require.ErrorIs(t, err, apperr.ErrStorage)

	categories, err := e.repo.ListCategories(context.Background())
	require.NoError(t, err)
	assert.Empty(t, categories)
}

// spyFiles wraps a FileStorage, counting deletes and optionally failing them.
type spyFiles struct {
	FileStorage
	deletes   int
	deleteErr error
}

func (s *spyFiles) Delete(storedName string) error {
	s.deletes++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.FileStorage.Delete(storedName)
}

func TestServer_Delete(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	spy := &spyFiles{FileStorage: e.blobs}
	e.server.fs = spy

	f, err := e.server.Upload(ctx, uploadRequest("bye", "bye.txt"))
	require.NoError(t, err)

	t.Run("unknown stored name", func(t *testing.T) {
		res, err := e.server.Delete(ctx, "unknown.txt")
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, res.Outcome)
		assert.Equal(t, "File not found for deletion: unknown.txt", res.Message())
		assert.Equal(t, 0, spy.deletes, "blob store must not be called")
	})

	t.Run("blob delete failure keeps record", func(t *testing.T) {
		spy.deleteErr = apperr.Storage(errors.New("device busy"), "can't delete file %s", f.StoredName)
		defer func() { spy.deleteErr = nil }()

		res, err := e.server.Delete(ctx, f.StoredName)
		assert.ErrorIs(t, err, apperr.ErrStorage)
		assert.Nil(t, res)

		_, err = e.repo.GetFileRecordByStoredName(ctx, f.StoredName)
		assert.NoError(t, err)
		assert.Equal(t, 1, e.blobCount(t))
	})

	t.Run("deleted", func(t *testing.T) {
		res, err := e.server.Delete(ctx, f.StoredName)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDeleted, res.Outcome)
		assert.Equal(t, "Successfully deleted file: bye.txt", res.Message())

		_, err = e.repo.GetFileRecordByStoredName(ctx, f.StoredName)
		assert.ErrorIs(t, err, database.ErrRecordNotFound)
		assert.Equal(t, 0, e.blobCount(t))
	})

	t.Run("deleted twice", func(t *testing.T) {
		res, err := e.server.Delete(ctx, f.StoredName)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, res.Outcome)
	})

	assert.Equal(t, 4, e.obs.deletes)
	assert.Equal(t, 1, e.obs.deleteErrors)
}

func TestServer_Delete_BlobAlreadyGone(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	f, err := e.server.Upload(ctx, uploadRequest("gone", "gone.txt"))
	require.NoError(t, err)
	require.NoError(t, e.fs.Remove(filepath.Join(uploadDir, f.StoredName)))

	res, err := e.server.Delete(ctx, f.StoredName)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeleted, res.Outcome)
}

func TestServer_Download(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	req := uploadRequest("report body", "report final.pdf")
	req.ContentType = "application/pdf"
	f, err := e.server.Upload(ctx, req)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(e.fs, filepath.Join(uploadDir, "untracked.bin"), []byte("raw"), 0o644))

	tests := []struct {
		name            string
		stored          string
		wantFilename    string
		wantContentType string
		wantContent     string
		wantErr         error
	}{
		{name: "with record", stored: f.StoredName,
			wantFilename: "report final.pdf", wantContentType: "application/pdf", wantContent: "report body"},
		{name: "without record", stored: "untracked.bin",
			wantFilename: "untracked.bin", wantContentType: database.DefaultContentType, wantContent: "raw"},
		{name: "missing blob", stored: "missing.bin", wantErr: apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.server.Download(ctx, tt.stored)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, d)
				return
			}
			require.NoError(t, err)
			defer d.Content.Close()
			assert.Equal(t, tt.wantFilename, d.Filename)
			assert.Equal(t, tt.wantContentType, d.ContentType)
			got, err := io.ReadAll(d.Content)
			require.NoError(t, err)
			assert.Equal(t, tt.wantContent, string(got))
		})
	}

	ok, err := e.server.Exists(ctx, f.StoredName)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, e.obs.downloads)
	assert.Equal(t, 1, e.obs.downloadErrors)
}

func TestServer_List(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	docs, err := e.server.Upload(ctx, &UploadRequest{
		File: strings.NewReader("1"), Size: 1, OriginalName: "1.txt",
		CategorySelector: "new", NewCategoryName: "Docs",
		SubCategorySelector: "new", NewSubCategoryName: "Invoices",
	})
	require.NoError(t, err)
	_, err = e.server.Upload(ctx, &UploadRequest{
		File: strings.NewReader("2"), Size: 1, OriginalName: "2.txt",
		CategorySelector: "new", NewCategoryName: "Media",
		SubCategorySelector: "new", NewSubCategoryName: "Invoices",
	})
	require.NoError(t, err)

	listing, err := e.server.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listing.Files, 2)
	assert.Len(t, listing.Categories, 2)
	assert.Len(t, listing.SubCategories, 2)
	for _, f := range listing.Files {
		require.NotNil(t, f.Category)
		require.NotNil(t, f.SubCategory)
	}

	of := listing.SubCategoriesOf(docs.Category.ID)
	require.Len(t, of, 1)
	assert.Equal(t, docs.SubCategory.ID, of[0].ID)
	assert.Empty(t, listing.SubCategoriesOf(uuid.New()))

	grouped := listing.SubCategoriesByCategory()
	assert.Len(t, grouped, 2)
	assert.Len(t, grouped[docs.Category.ID], 1)

	subs, err := e.server.SubCategories(ctx, docs.Category.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Invoices", subs[0].Name)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "deleted", OutcomeDeleted.String())
	assert.Equal(t, "not found", OutcomeNotFound.String())
}
