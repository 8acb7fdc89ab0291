// Package taxonomy turns the category and sub category selectors sent by a
// client into stored records, creating them on first use.
//
// A selector is either the id of an existing record, SelectorNew together
// with a name, or empty. Creation is lookup-or-create: asking for a "new"
// name that already exists returns the existing record. When a concurrent
// request creates the same name between the lookup and the insert, the unique
// index rejects the insert and the lookup is repeated once.
package taxonomy

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/konorlevich/fileshelf/internal/file-service/apperr"
	"github.com/konorlevich/fileshelf/internal/file-service/database"
)

// SelectorNew asks for a record named by the accompanying name.
const SelectorNew = "new"

type Repository interface {
	CreateCategory(ctx context.Context, name string) (*database.Category, error)
	GetCategory(ctx context.Context, id uuid.UUID) (*database.Category, error)
	FindCategoryByName(ctx context.Context, name string) (*database.Category, error)
	CreateSubCategory(ctx context.Context, categoryID uuid.UUID, name string) (*database.SubCategory, error)
	GetSubCategory(ctx context.Context, id uuid.UUID) (*database.SubCategory, error)
	FindSubCategory(ctx context.Context, categoryID uuid.UUID, name string) (*database.SubCategory, error)
}

type Resolver struct {
	repo Repository
	l    *log.Entry
}

func NewResolver(repo Repository, l *log.Entry) *Resolver {
	return &Resolver{repo: repo, l: l}
}

// ResolveCategory returns the category chosen by selector. A category is
// mandatory, so an empty selector is a validation error.
func (r *Resolver) ResolveCategory(ctx context.Context, selector, newName string) (*database.Category, error) {
	selector = strings.TrimSpace(selector)
	l := r.l.WithField("category_selector", selector)

	switch selector {
	case SelectorNew:
		name := strings.TrimSpace(newName)
		if name == "" {
			return nil, apperr.Validationf("new category name cannot be empty when %q is selected", SelectorNew)
		}
		return lookupOrCreate(
			func() (*database.Category, error) { return r.repo.FindCategoryByName(ctx, name) },
			func() (*database.Category, error) { return r.repo.CreateCategory(ctx, name) },
			l.WithField("category", name),
		)
	case "":
		return nil, apperr.Validationf("category must be selected")
	}

	id, err := uuid.Parse(selector)
	if err != nil {
		return nil, apperr.Validationf("invalid category value: %s", selector)
	}
	c, err := r.repo.GetCategory(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, apperr.Validationf("invalid category id: %s", id)
		}
		l.WithError(err).Error("can't get category")
		return nil, err
	}
	return c, nil
}

// ResolveSubCategory returns the sub category chosen by selector within
// category, or nil when selector is empty.
func (r *Resolver) ResolveSubCategory(ctx context.Context, category *database.Category, selector, newName string) (*database.SubCategory, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, nil
	}
	if category == nil {
		return nil, apperr.Validationf("sub category selected without category")
	}
	l := r.l.WithFields(log.Fields{
		"category":              category.Name,
		"sub_category_selector": selector,
	})

	if selector == SelectorNew {
		name := strings.TrimSpace(newName)
		if name == "" {
			return nil, apperr.Validationf("new sub-category name cannot be empty when %q is selected", SelectorNew)
		}
		s, err := lookupOrCreate(
			func() (*database.SubCategory, error) { return r.repo.FindSubCategory(ctx, category.ID, name) },
			func() (*database.SubCategory, error) { return r.repo.CreateSubCategory(ctx, category.ID, name) },
			l.WithField("sub_category", name),
		)
		if err != nil {
			return nil, err
		}
		s.Category = category
		return s, nil
	}

	id, err := uuid.Parse(selector)
	if err != nil {
		return nil, apperr.Validationf("invalid sub category value: %s", selector)
	}
	s, err := r.repo.GetSubCategory(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, apperr.Validationf("invalid sub category id: %s for category: %s", id, category.Name)
		}
		l.WithError(err).Error("can't get sub category")
		return nil, err
	}
	if s.CategoryID != category.ID {
		l.WithField("sub_category_owner", s.CategoryID).Warn("sub category of another category requested")
		return nil, apperr.Validationf("subcategory does not belong to category %s", category.Name)
	}
	s.Category = category
	return s, nil
}

func lookupOrCreate[T any](find, create func() (*T, error), l *log.Entry) (*T, error) {
	found, err := find()
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, database.ErrRecordNotFound) {
		l.WithError(err).Error("can't look up taxonomy node")
		return nil, err
	}

	created, err := create()
	if err == nil {
		l.Info("taxonomy node created")
		return created, nil
	}
	if !database.IsUniqueViolation(err) {
		l.WithError(err).Error("can't create taxonomy node")
		return nil, err
	}

	l.WithError(err).Warn("taxonomy node created concurrently, repeating lookup")
	found, err = find()
	if err != nil {
		l.WithError(err).Error("can't look up concurrently created taxonomy node")
		return nil, err
	}
	return found, nil
}
