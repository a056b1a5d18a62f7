package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lyzr/querystore/cmd/queries/repository"
	"github.com/lyzr/querystore/common/logger"
	"github.com/lyzr/querystore/common/models"
	"github.com/lyzr/querystore/common/store"
	"github.com/lyzr/querystore/common/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyBackend counts writes reaching the collection
type spyBackend struct {
	*store.Collection
	inserts int
	updates int
	failOn  error
}

func (s *spyBackend) Insert(ctx context.Context, doc store.Document) (store.Document, error) {
	s.inserts++
	if s.failOn != nil {
		return nil, s.failOn
	}
	return s.Collection.Insert(ctx, doc)
}

func (s *spyBackend) Update(ctx context.Context, f store.Filter, doc store.Document, opts store.UpdateOptions) (store.UpdateResult, error) {
	s.updates++
	if s.failOn != nil {
		return store.UpdateResult{}, s.failOn
	}
	return s.Collection.Update(ctx, f, doc, opts)
}

func (s *spyBackend) writes() int {
	return s.inserts + s.updates
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*QueryService, *spyBackend, *clock) {
	t.Helper()
	spy := &spyBackend{Collection: store.NewMemory("queries")}
	clk := &clock{now: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
	svc := NewQueryService(repository.NewQueryRepository(spy), logger.Discard(), WithClock(clk.Now))
	return svc, spy, clk
}

func newQuery() models.Document {
	return models.Document{
		"name":       "signups by week",
		"queryText":  "SELECT 1",
		"createdBy":  "alice",
		"modifiedBy": "alice",
	}
}

func TestSave_InsertAssignsID(t *testing.T) {
	ctx := context.Background()
	svc, spy, clk := newTestService(t)

	saved, err := svc.Save(ctx, newQuery())
	require.NoError(t, err)

	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, 1, spy.inserts)
	assert.Equal(t, 0, spy.updates)
	assert.True(t, saved.CreatedDate.Equal(clk.now))
	assert.True(t, saved.ModifiedDate.Equal(clk.now))
	assert.True(t, saved.LastAccessDate.Equal(clk.now))

	found, err := svc.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved, found)
}

func TestSave_DoesNotMutateInput(t *testing.T) {
	svc, _, _ := newTestService(t)

	in := newQuery()
	in["tags"] = []any{" a "}
	_, err := svc.Save(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, []any{" a "}, in["tags"])
	assert.NotContains(t, in, models.FieldModifiedDate)
}

func TestSave_UpdatePreservesCreatedDateAndID(t *testing.T) {
	ctx := context.Background()
	svc, spy, clk := newTestService(t)

	created, err := svc.Save(ctx, newQuery())
	require.NoError(t, err)

	clk.advance(time.Hour)

	doc, err := created.Document()
	require.NoError(t, err)
	doc["name"] = "renamed"
	doc["modifiedBy"] = "bob"

	updated, err := svc.Save(ctx, doc)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "bob", updated.ModifiedBy)
	assert.True(t, updated.CreatedDate.Equal(created.CreatedDate))
	assert.True(t, updated.ModifiedDate.Equal(clk.now))
	assert.True(t, updated.ModifiedDate.After(created.ModifiedDate))
	assert.Equal(t, 1, spy.updates)

	all, err := svc.List(ctx, store.All())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSave_UpdateWithoutCreatedDateKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	svc, _, clk := newTestService(t)

	created, err := svc.Save(ctx, newQuery())
	require.NoError(t, err)
	original := clk.now

	clk.advance(time.Hour)

	updated, err := svc.Save(ctx, models.Document{
		"id":         created.ID,
		"name":       "renamed",
		"createdBy":  "alice",
		"modifiedBy": "alice",
	})
	require.NoError(t, err)

	assert.True(t, updated.CreatedDate.Equal(original), "createdDate = %s", updated.CreatedDate)
	assert.True(t, updated.ModifiedDate.Equal(clk.now))

	found, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, found.CreatedDate.Equal(original))
}

func TestSave_UpdateIgnoresCallerCreatedDate(t *testing.T) {
	ctx := context.Background()
	svc, _, clk := newTestService(t)

	created, err := svc.Save(ctx, newQuery())
	require.NoError(t, err)

	clk.advance(time.Hour)

	doc := newQuery()
	doc["id"] = created.ID
	doc["createdDate"] = "2001-01-01T00:00:00Z"

	updated, err := svc.Save(ctx, doc)
	require.NoError(t, err)
	assert.True(t, updated.CreatedDate.Equal(created.CreatedDate))
}

func TestSave_OverwritesCallerTimestamps(t *testing.T) {
	svc, _, clk := newTestService(t)

	in := newQuery()
	in["modifiedDate"] = "2001-01-01T00:00:00Z"
	in["lastAccessDate"] = "2001-01-01T00:00:00Z"
	in["createdDate"] = "2001-01-01T00:00:00Z"

	saved, err := svc.Save(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, saved.ModifiedDate.Equal(clk.now))
	assert.True(t, saved.LastAccessDate.Equal(clk.now))
	assert.Equal(t, 2001, saved.CreatedDate.Year())
}

func TestSave_UpsertUnknownID(t *testing.T) {
	ctx := context.Background()
	svc, spy, _ := newTestService(t)

	in := newQuery()
	in["id"] = "imported-42"

	saved, err := svc.Save(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "imported-42", saved.ID)
	assert.Equal(t, 1, spy.updates)
	assert.Equal(t, 0, spy.inserts)

	found, err := svc.Get(ctx, "imported-42")
	require.NoError(t, err)
	assert.Equal(t, saved, found)
}

func TestSave_SanitizesTags(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	in := newQuery()
	in["tags"] = []any{"  finance ", "", "   ", 12, nil, "weekly", "finance"}

	saved, err := svc.Save(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"finance", "weekly", "finance"}, saved.Tags)

	doc, err := saved.Document()
	require.NoError(t, err)

	again, err := svc.Save(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, saved.Tags, again.Tags, "sanitization is idempotent")
}

func TestSave_ValidationFailureWritesNothing(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(models.Document)
		field  string
	}{
		{"missing name", func(d models.Document) { delete(d, "name") }, "name"},
		{"empty name", func(d models.Document) { d["name"] = "" }, "name"},
		{"missing createdBy", func(d models.Document) { delete(d, "createdBy") }, "createdBy"},
		{"missing modifiedBy", func(d models.Document) { delete(d, "modifiedBy") }, "modifiedBy"},
		{"tags not a list", func(d models.Document) { d["tags"] = "finance" }, "tags"},
		{"unknown field", func(d models.Document) { d["owner"] = "x" }, "owner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, spy, _ := newTestService(t)

			in := newQuery()
			tt.mutate(in)

			_, err := svc.Save(ctx, in)
			require.ErrorIs(t, err, validation.ErrValidation)

			var verr *validation.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields(), tt.field)
			assert.Equal(t, 0, spy.writes())
		})
	}
}

func TestSave_PropagatesBackendErrors(t *testing.T) {
	ctx := context.Background()
	svc, spy, _ := newTestService(t)
	boom := errors.New("disk full")
	spy.failOn = boom

	_, err := svc.Save(ctx, newQuery())
	assert.ErrorIs(t, err, boom)

	in := newQuery()
	in["id"] = "x"
	_, err = svc.Save(ctx, in)
	assert.ErrorIs(t, err, boom)
}

func TestSave_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	in := newQuery()
	in["tags"] = []any{"finance"}
	in["connectionId"] = "warehouse"
	in["chartConfiguration"] = map[string]any{
		"chartType": "line",
		"fields":    map[string]any{"x": "created_month", "y": "package_count", "trendline": "true"},
	}

	saved, err := svc.Save(ctx, in)
	require.NoError(t, err)

	found, err := svc.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved, found)
	require.NotNil(t, found.ChartConfiguration)
	assert.Equal(t, "line", found.ChartConfiguration.ChartType)
	assert.Equal(t, "true", found.ChartConfiguration.Fields["trendline"])
}

func TestSaveQuery(t *testing.T) {
	svc, _, _ := newTestService(t)

	saved, err := svc.SaveQuery(context.Background(), &models.Query{
		Name:       "typed",
		Tags:       []string{" x "},
		CreatedBy:  "alice",
		ModifiedBy: "alice",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, []string{"x"}, saved.Tags)
}

func TestPatch(t *testing.T) {
	ctx := context.Background()
	svc, _, clk := newTestService(t)

	in := newQuery()
	in["chartConfiguration"] = map[string]any{"chartType": "bar", "fields": map[string]any{"x": "day", "y": "total"}}
	created, err := svc.Save(ctx, in)
	require.NoError(t, err)

	clk.advance(time.Minute)

	patched, err := svc.Patch(ctx, created.ID,
		[]byte(`{"name": "patched", "chartConfiguration": {"fields": {"y": null}}}`), "bob")
	require.NoError(t, err)

	assert.Equal(t, created.ID, patched.ID)
	assert.Equal(t, "patched", patched.Name)
	assert.Equal(t, "SELECT 1", patched.QueryText)
	assert.Equal(t, "bob", patched.ModifiedBy)
	assert.Equal(t, "alice", patched.CreatedBy)
	assert.True(t, patched.CreatedDate.Equal(created.CreatedDate))
	assert.True(t, patched.ModifiedDate.Equal(clk.now))
	assert.Equal(t, map[string]any{"x": "day"}, patched.ChartConfiguration.Fields)

	_, err = svc.Patch(ctx, created.ID, []byte(`{"id": "other"}`), "bob")
	assert.ErrorIs(t, err, validation.ErrValidation)

	_, err = svc.Patch(ctx, created.ID, []byte(`{"name": ""}`), "bob")
	assert.ErrorIs(t, err, validation.ErrValidation)

	_, err = svc.Patch(ctx, "missing", []byte(`{"name": "x"}`), "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	saved, err := svc.Save(ctx, newQuery())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, saved.ID))
	require.NoError(t, svc.Delete(ctx, saved.ID))

	_, err = svc.Get(ctx, saved.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSanitizeTags(t *testing.T) {
	tests := []struct {
		name   string
		tags   any
		want   []any
		wantOK bool
	}{
		{name: "string slice", tags: []string{" a", "", "b "}, want: []any{"a", "b"}, wantOK: true},
		{name: "blank and padded", tags: []any{"  a ", " ", "", "b"}, want: []any{"a", "b"}, wantOK: true},
		{name: "non-string entries", tags: []any{"a", 1, nil, true}, want: []any{"a"}, wantOK: true},
		{name: "empty", tags: []any{}, want: []any{}, wantOK: true},
		{name: "not a list", tags: "a,b", wantOK: false},
		{name: "nil", tags: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, ok := SanitizeTags(tt.tags)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.want, clean)

			again, ok := SanitizeTags(clean)
			require.True(t, ok)
			assert.Equal(t, clean, again, "sanitizing a clean list changes nothing")
		})
	}
}
