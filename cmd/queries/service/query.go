package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/lyzr/querystore/cmd/queries/repository"
	"github.com/lyzr/querystore/common/logger"
	"github.com/lyzr/querystore/common/models"
	"github.com/lyzr/querystore/common/store"
	"github.com/lyzr/querystore/common/validation"
)

// QueryService saves queries through the validate-then-write pipeline
type QueryService struct {
	repo    *repository.QueryRepository
	backend repository.Backend
	schema  *validation.Schema
	patches *validation.PatchValidator
	log     *logger.Logger
	now     func() time.Time
}

// Option configures a QueryService
type Option func(*QueryService)

// WithClock overrides the clock used for modification and default timestamps
func WithClock(now func() time.Time) Option {
	return func(s *QueryService) {
		s.now = now
	}
}

// NewQueryService creates a new query service
func NewQueryService(repo *repository.QueryRepository, log *logger.Logger, opts ...Option) *QueryService {
	s := &QueryService{
		repo:    repo,
		backend: repo.Backend(),
		patches: validation.NewPatchValidator(),
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.schema = validation.NewQuerySchema(validation.WithClock(s.now))

	return s
}

// Save validates and persists a query record.
//
// A record carrying an id is upserted and then re-read, keeping the stored
// createdDate; one without an id is inserted and the backend assigns the id.
// A *validation.ValidationError is returned before any write when the record
// does not satisfy the schema.
// The caller's document is not modified.
func (s *QueryService) Save(ctx context.Context, in models.Document) (*models.Query, error) {
	doc := make(models.Document, len(in)+2)
	for k, v := range in {
		doc[k] = v
	}

	now := models.Timestamp(s.now())
	doc[models.FieldModifiedDate] = now
	doc[models.FieldLastAccessDate] = now

	if tags, ok := SanitizeTags(doc[models.FieldTags]); ok {
		doc[models.FieldTags] = tags
	}

	normalized, err := s.schema.Normalize(doc)
	if err != nil {
		return nil, err
	}

	if id := normalized.ID(); id != "" {
		if err := s.keepCreatedDate(ctx, id, normalized); err != nil {
			return nil, err
		}

		if _, err := s.backend.Update(ctx, store.ByID(id), normalized, store.UpdateOptions{Upsert: true}); err != nil {
			return nil, fmt.Errorf("failed to upsert query %s: %w", id, err)
		}

		saved, err := s.repo.FindOneByID(ctx, id)
		if err != nil {
			return nil, err
		}

		s.log.WithQueryID(id).Info("saved query")
		return saved, nil
	}

	inserted, err := s.backend.Insert(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to insert query: %w", err)
	}

	saved, err := models.QueryFromDocument(inserted)
	if err != nil {
		return nil, err
	}

	s.log.WithQueryID(saved.ID).Info("created query")
	return saved, nil
}

// keepCreatedDate carries the stored createdDate into doc so an update never
// replaces it, whether the caller omitted it or sent another value
func (s *QueryService) keepCreatedDate(ctx context.Context, id string, doc models.Document) error {
	current, err := s.backend.FindOne(ctx, store.ByID(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load query %s: %w", id, err)
	}

	if created, ok := current[models.FieldCreatedDate]; ok {
		doc[models.FieldCreatedDate] = created
	}
	return nil
}

// SaveQuery is Save for typed callers
func (s *QueryService) SaveQuery(ctx context.Context, q *models.Query) (*models.Query, error) {
	doc, err := q.Document()
	if err != nil {
		return nil, err
	}
	return s.Save(ctx, doc)
}

// Patch applies an RFC 7396 merge patch to the stored query and saves the
// result. modifiedBy is set to actor when actor is non-empty.
func (s *QueryService) Patch(ctx context.Context, id string, patch []byte, actor string) (*models.Query, error) {
	if err := s.patches.ValidateMergePatch(patch); err != nil {
		return nil, err
	}

	current, err := s.backend.FindOne(ctx, store.ByID(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load query %s: %w", id, err)
	}

	original, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query %s: %w", id, err)
	}

	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply merge patch: %w", err)
	}

	var doc models.Document
	if err := json.Unmarshal(merged, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode patched query: %w", err)
	}

	doc[models.FieldID] = id
	if actor != "" {
		doc[models.FieldModifiedBy] = actor
	}

	s.log.WithQueryID(id).Debug("applied merge patch", "patch_bytes", len(patch))

	return s.Save(ctx, doc)
}

// Get returns one query by id
func (s *QueryService) Get(ctx context.Context, id string) (*models.Query, error) {
	return s.repo.FindOneByID(ctx, id)
}

// List returns the queries matching f
func (s *QueryService) List(ctx context.Context, f store.Filter) ([]*models.Query, error) {
	return s.repo.FindByFilter(ctx, f)
}

// Delete removes a query; deleting a missing id succeeds
func (s *QueryService) Delete(ctx context.Context, id string) error {
	if err := s.repo.RemoveByID(ctx, id); err != nil {
		return err
	}

	s.log.WithQueryID(id).Info("deleted query")
	return nil
}

// SanitizeTags drops non-string and blank entries from a tag list and trims
// the survivors. ok is false when tags is not a list, which leaves it for the
// schema to reject.
func SanitizeTags(tags any) (clean []any, ok bool) {
	switch list := tags.(type) {
	case []any:
		clean = make([]any, 0, len(list))
		for _, tag := range list {
			if s, isStr := tag.(string); isStr {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					clean = append(clean, trimmed)
				}
			}
		}
		return clean, true
	case []string:
		clean = make([]any, 0, len(list))
		for _, s := range list {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				clean = append(clean, trimmed)
			}
		}
		return clean, true
	}
	return nil, false
}
