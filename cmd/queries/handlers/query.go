package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/querystore/cmd/queries/middleware"
	"github.com/lyzr/querystore/cmd/queries/service"
	"github.com/lyzr/querystore/common/logger"
	"github.com/lyzr/querystore/common/models"
	"github.com/lyzr/querystore/common/store"
)

// QueryHandler handles saved-query requests
type QueryHandler struct {
	svc *service.QueryService
	log *logger.Logger
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(svc *service.QueryService, log *logger.Logger) *QueryHandler {
	return &QueryHandler{
		svc: svc,
		log: log,
	}
}

type listQueriesParams struct {
	Filter       string `query:"filter" validate:"max=4096"`
	Tag          string `query:"tag" validate:"max=256"`
	ConnectionID string `query:"connectionId" validate:"max=256"`
	CreatedBy    string `query:"createdBy" validate:"max=256"`
}

type queryIDParam struct {
	ID string `param:"id" validate:"required,max=256"`
}

// ListQueries lists saved queries with optional filters
// GET /api/queries?tag=finance&connectionId=warehouse&filter=<cel>
func (h *QueryHandler) ListQueries(c echo.Context) error {
	var params listQueriesParams
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}
	if err := c.Validate(&params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	queries, err := h.svc.List(c.Request().Context(), params.filter())
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"queries": queries,
	})
}

func (p listQueriesParams) filter() store.Filter {
	f := store.All()
	if p.ConnectionID != "" {
		f = f.Eq(models.FieldConnectionID, p.ConnectionID)
	}
	if p.CreatedBy != "" {
		f = f.Eq(models.FieldCreatedBy, p.CreatedBy)
	}

	var exprs []string
	if p.Tag != "" {
		exprs = append(exprs, "has(doc.tags) && "+strconv.Quote(p.Tag)+" in doc.tags")
	}
	if p.Filter != "" {
		exprs = append(exprs, p.Filter)
	}
	switch len(exprs) {
	case 1:
		f.Expr = exprs[0]
	case 2:
		f.Expr = "(" + exprs[0] + ") && (" + exprs[1] + ")"
	}
	return f
}

// GetQuery retrieves a saved query
// GET /api/queries/:id
func (h *QueryHandler) GetQuery(c echo.Context) error {
	id, err := h.bindID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	q, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"query": q,
	})
}

// CreateQuery saves a new query owned by the caller
// POST /api/queries
func (h *QueryHandler) CreateQuery(c echo.Context) error {
	doc, err := bindDocument(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	username := middleware.GetUsername(c)
	delete(doc, models.FieldID)
	doc[models.FieldCreatedBy] = username
	doc[models.FieldModifiedBy] = username

	q, err := h.svc.Save(c.Request().Context(), doc)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"query": q,
	})
}

// UpdateQuery replaces (or creates) the query with the given id
// PUT /api/queries/:id
func (h *QueryHandler) UpdateQuery(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := h.bindID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	doc, err := bindDocument(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}
	if bodyID, ok := doc[models.FieldID]; ok && bodyID != id {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "body id does not match path id"})
	}

	username := middleware.GetUsername(c)
	doc[models.FieldID] = id
	doc[models.FieldModifiedBy] = username

	// Ownership survives a full replace; Save keeps the creation time
	existing, err := h.svc.Get(ctx, id)
	switch {
	case err == nil:
		doc[models.FieldCreatedBy] = existing.CreatedBy
	case errors.Is(err, store.ErrNotFound):
		doc[models.FieldCreatedBy] = username
	default:
		return h.respondError(c, err)
	}

	q, err := h.svc.Save(ctx, doc)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"query": q,
	})
}

// PatchQuery applies a JSON merge patch to a saved query
// PATCH /api/queries/:id
func (h *QueryHandler) PatchQuery(c echo.Context) error {
	id, err := h.bindID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	patch, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "failed to read request body"})
	}

	q, err := h.svc.Patch(c.Request().Context(), id, patch, middleware.GetUsername(c))
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"query": q,
	})
}

// DeleteQuery removes a saved query; deleting a missing id succeeds
// DELETE /api/queries/:id
func (h *QueryHandler) DeleteQuery(c echo.Context) error {
	id, err := h.bindID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id": id,
	})
}

func (h *QueryHandler) bindID(c echo.Context) (string, error) {
	var p queryIDParam
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &p); err != nil {
		return "", err
	}
	p.ID = strings.TrimSpace(p.ID)
	if err := c.Validate(&p); err != nil {
		return "", err
	}
	return p.ID, nil
}

func bindDocument(c echo.Context) (models.Document, error) {
	var doc models.Document
	if err := (&echo.DefaultBinder{}).BindBody(c, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return doc, nil
}
