package repository

import (
	"context"
	"fmt"

	"github.com/lyzr/querystore/common/models"
	"github.com/lyzr/querystore/common/store"
)

// Backend is the document collection the repository reads and writes.
// *store.Collection satisfies it.
type Backend interface {
	FindOne(ctx context.Context, f store.Filter) (store.Document, error)
	Find(ctx context.Context, f store.Filter) ([]store.Document, error)
	Insert(ctx context.Context, doc store.Document) (store.Document, error)
	Update(ctx context.Context, f store.Filter, doc store.Document, opts store.UpdateOptions) (store.UpdateResult, error)
	Remove(ctx context.Context, f store.Filter, opts store.RemoveOptions) (int, error)
}

// QueryRepository handles backend reads and removals for saved queries
type QueryRepository struct {
	backend Backend
}

// NewQueryRepository creates a new query repository
func NewQueryRepository(backend Backend) *QueryRepository {
	return &QueryRepository{backend: backend}
}

// Backend returns the underlying collection
func (r *QueryRepository) Backend() Backend {
	return r.backend
}

// FindOneByID retrieves a query by id. Returns store.ErrNotFound when absent.
func (r *QueryRepository) FindOneByID(ctx context.Context, id string) (*models.Query, error) {
	doc, err := r.backend.FindOne(ctx, store.ByID(id))
	if err != nil {
		return nil, fmt.Errorf("failed to find query %s: %w", id, err)
	}

	q, err := models.QueryFromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode query %s: %w", id, err)
	}

	return q, nil
}

// FindAll retrieves every stored query in backend order
func (r *QueryRepository) FindAll(ctx context.Context) ([]*models.Query, error) {
	return r.FindByFilter(ctx, store.All())
}

// FindByFilter retrieves the queries matching f
func (r *QueryRepository) FindByFilter(ctx context.Context, f store.Filter) ([]*models.Query, error) {
	docs, err := r.backend.Find(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to find queries: %w", err)
	}

	queries := make([]*models.Query, 0, len(docs))
	for _, doc := range docs {
		q, err := models.QueryFromDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode query %s: %w", doc.ID(), err)
		}
		queries = append(queries, q)
	}

	return queries, nil
}

// RemoveByID deletes the query with the given id. Removing a missing id is not an error.
func (r *QueryRepository) RemoveByID(ctx context.Context, id string) error {
	if _, err := r.backend.Remove(ctx, store.ByID(id), store.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove query %s: %w", id, err)
	}
	return nil
}
