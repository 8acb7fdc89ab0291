package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/konorlevich/fileshelf/internal/file-service/apperr"
	"github.com/konorlevich/fileshelf/internal/file-service/database"
	"github.com/konorlevich/fileshelf/internal/file-service/storage"
)

type messageResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type uploadResponse struct {
	messageResponse
	File *storage.Summary `json:"file"`
}

type deleteResponse struct {
	messageResponse
	Outcome string `json:"outcome"`
}

type categoryView struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type subCategoryView struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	CategoryID uuid.UUID `json:"category_id"`
}

type listResponse struct {
	Files      []*storage.Summary `json:"files"`
	Categories []*categoryView    `json:"categories"`
	// SubCategories is keyed by category id.
	SubCategories map[string][]*subCategoryView `json:"sub_categories"`
}

func newListResponse(listing *storage.Listing) *listResponse {
	res := &listResponse{
		Files:         make([]*storage.Summary, 0, len(listing.Files)),
		Categories:    make([]*categoryView, 0, len(listing.Categories)),
		SubCategories: make(map[string][]*subCategoryView, len(listing.Categories)),
	}
	for _, f := range listing.Files {
		res.Files = append(res.Files, storage.Summarize(f))
	}
	for _, c := range listing.Categories {
		res.Categories = append(res.Categories, &categoryView{ID: c.ID, Name: c.Name})
	}
	for id, subs := range listing.SubCategoriesByCategory() {
		res.SubCategories[id.String()] = newSubCategoryViews(subs)
	}
	return res
}

func newSubCategoryViews(subs []*database.SubCategory) []*subCategoryView {
	res := make([]*subCategoryView, 0, len(subs))
	for _, s := range subs {
		res = append(res, &subCategoryView{ID: s.ID, Name: s.Name, CategoryID: s.CategoryID})
	}
	return res
}

func writeJSON(rw http.ResponseWriter, status int, body any, l *log.Entry) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		l.WithError(err).Warn("can't write response")
	}
}

// writeError maps an error kind to its status. Storage failures keep their
// cause in the message, unknown errors are hidden behind a generic one.
func writeError(rw http.ResponseWriter, err error, l *log.Entry) {
	status, msg := http.StatusInternalServerError, errSomethingWrong
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, apperr.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, apperr.ErrStorage):
		msg = err.Error()
	}
	if status == http.StatusInternalServerError {
		l.WithError(err).Error("request failed")
	}
	writeJSON(rw, status, &messageResponse{Error: msg}, l)
}
