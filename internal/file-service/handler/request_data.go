package handler

import (
	"errors"
	"mime/multipart"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/konorlevich/fileshelf/internal/file-service/storage"
)

const (
	fieldNameFile           = "file"
	fieldNameLabels         = "labels"
	fieldNameCategory       = "category"
	fieldNameNewCategory    = "newCategory"
	fieldNameSubCategory    = "subCategory"
	fieldNameNewSubCategory = "newSubCategory"

	pathValueStoredName = "storedName"
	pathValueCategoryID = "id"

	// multipartMemory is how much of a multipart body is kept in memory,
	// the rest is spooled to temporary files.
	multipartMemory = 8 << 20
)

var (
	errCantParseForm = errors.New("can't parse request form")
	errNoFile        = errors.New("please select a file to upload")
	errTooLarge      = errors.New("request body is too large")
)

type uploadData struct {
	req  *storage.UploadRequest
	file multipart.File
}

func (d *uploadData) Close() error {
	return d.file.Close()
}

// newUploadData binds the multipart upload form. The returned file stays open
// until Close is called.
func newUploadData(rw http.ResponseWriter, r *http.Request, maxBytes int64, logger *log.Entry) (*uploadData, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(rw, r.Body, maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WithField("limit", tooLarge.Limit).Warn(errTooLarge)
			return nil, errTooLarge
		}
		logger.WithError(err).Error(errCantParseForm)
		return nil, errCantParseForm
	}

	f, fh, err := r.FormFile(fieldNameFile)
	if err != nil {
		logger.WithError(err).Info(errNoFile)
		return nil, errNoFile
	}

	return &uploadData{
		file: f,
		req: &storage.UploadRequest{
			File:                f,
			Size:                fh.Size,
			OriginalName:        fh.Filename,
			ContentType:         fh.Header.Get("Content-Type"),
			Labels:              r.PostFormValue(fieldNameLabels),
			CategorySelector:    r.PostFormValue(fieldNameCategory),
			NewCategoryName:     r.PostFormValue(fieldNameNewCategory),
			SubCategorySelector: r.PostFormValue(fieldNameSubCategory),
			NewSubCategoryName:  r.PostFormValue(fieldNameNewSubCategory),
		},
	}, nil
}
