package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/konorlevich/fileshelf/internal/file-service/apperr"
	"github.com/konorlevich/fileshelf/internal/file-service/database"
	"github.com/konorlevich/fileshelf/internal/file-service/handler/middleware"
	"github.com/konorlevich/fileshelf/internal/file-service/storage"
)

const errSomethingWrong = "something went wrong, please try later"

type FileService interface {
	Upload(ctx context.Context, req *storage.UploadRequest) (*database.FileRecord, error)
	Delete(ctx context.Context, storedName string) (*storage.DeleteResult, error)
	Download(ctx context.Context, storedName string) (*storage.Download, error)
	Exists(ctx context.Context, storedName string) (bool, error)
	List(ctx context.Context) (*storage.Listing, error)
	SubCategories(ctx context.Context, categoryID uuid.UUID) ([]*database.SubCategory, error)
}

// NewHandler routes the file service API. metrics is served on /metrics when
// not nil.
func NewHandler(files FileService, maxUploadBytes int64, metrics http.Handler, l *log.Entry) *http.ServeMux {
	handler := http.NewServeMux()
	logged := middleware.LogRequests(l)

	handler.Handle("GET /{$}", logged(listFiles(files, l)))
	handler.Handle("GET /categories/{id}/subcategories", logged(listSubCategories(files, l)))
	handler.Handle("POST /upload", logged(uploadFile(files, maxUploadBytes, l)))
	handler.Handle("GET /files/{storedName}", logged(downloadFile(files, l)))
	handler.Handle("HEAD /files/{storedName}", logged(checkFile(files, l)))
	handler.Handle("POST /files/delete/{storedName}", logged(deleteFile(files, l)))
	handler.Handle("DELETE /files/{storedName}", logged(deleteFile(files, l)))

	if metrics != nil {
		handler.Handle("GET /metrics", metrics)
	}
	return handler
}

func listFiles(files FileService, l *log.Entry) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		listing, err := files.List(r.Context())
		if err != nil {
			writeError(rw, err, l)
			return
		}
		writeJSON(rw, http.StatusOK, newListResponse(listing), l)
	}
}

func listSubCategories(files FileService, l *log.Entry) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		raw := r.PathValue(pathValueCategoryID)
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			writeError(rw, apperr.Validationf("invalid category id: %s", raw), l)
			return
		}
		subs, err := files.SubCategories(r.Context(), id)
		if err != nil {
			writeError(rw, err, l)
			return
		}
		writeJSON(rw, http.StatusOK, newSubCategoryViews(subs), l)
	}
}

func uploadFile(files FileService, maxUploadBytes int64, l *log.Entry) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ud, err := newUploadData(rw, r, maxUploadBytes, l)
		switch {
		case errors.Is(err, errTooLarge):
			writeJSON(rw, http.StatusRequestEntityTooLarge, &messageResponse{Error: err.Error()}, l)
			return
		case err != nil:
			writeJSON(rw, http.StatusBadRequest, &messageResponse{Error: err.Error()}, l)
			return
		}
		defer func() { _ = ud.Close() }()

		f, err := files.Upload(r.Context(), ud.req)
		if err != nil {
			writeError(rw, err, l)
			return
		}
		summary := storage.Summarize(f)
		writeJSON(rw, http.StatusCreated, &uploadResponse{
			messageResponse: messageResponse{Message: summary.UploadMessage()},
			File:            summary,
		}, l)
	}
}

func downloadFile(files FileService, l *log.Entry) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		storedName := r.PathValue(pathValueStoredName)
		d, err := files.Download(r.Context(), storedName)
		if err != nil {
			writeError(rw, err, l)
			return
		}
		defer func() { _ = d.Content.Close() }()

		rw.Header().Set("Content-Type", d.ContentType)
		rw.Header().Set("Content-Disposition", contentDisposition(d.Filename))
		if _, err := io.Copy(rw, d.Content); err != nil {
			l.WithError(err).WithField("stored_name", storedName).Warn("can't send file")
			return
		}
		l.WithField("stored_name", storedName).Debug("file sent")
	}
}

func checkFile(files FileService, l *log.Entry) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ok, err := files.Exists(r.Context(), r.PathValue(pathValueStoredName))
		if err != nil {
			l.WithError(err).Error("can't check file")
			rw.WriteHeader(http.StatusInternalServerError)
			return
		}
		if !ok {
			rw.WriteHeader(http.StatusNotFound)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}
}

func deleteFile(files FileService, l *log.Entry) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		res, err := files.Delete(r.Context(), r.PathValue(pathValueStoredName))
		if err != nil {
			writeError(rw, err, l)
			return
		}
		status := http.StatusOK
		if res.Outcome == storage.OutcomeNotFound {
			status = http.StatusNotFound
		}
		writeJSON(rw, status, &deleteResponse{
			messageResponse: messageResponse{Message: res.Message()},
			Outcome:         res.Outcome.String(),
		}, l)
	}
}

// contentDisposition marks the response as an attachment named filename.
// The name is URL encoded with spaces as %20.
func contentDisposition(filename string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(filename), "+", "%20")
	return `attachment; filename="` + escaped + `"`
}
