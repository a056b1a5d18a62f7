package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// IDField is the document key that holds the record identifier
const IDField = "id"

var (
	// ErrNotFound is returned by FindOne when no document matches
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned by Insert when the id is already taken
	ErrConflict = errors.New("document already exists")

	// ErrImmutableID is returned when a replacement tries to change a stored id
	ErrImmutableID = errors.New("document id cannot be changed")

	// ErrInvalidFilter is returned for filters the backend cannot evaluate
	ErrInvalidFilter = errors.New("invalid filter")
)

// Document is a semi-structured record keyed by IDField
type Document map[string]any

// ID returns the document id, or "" when absent or not a string
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// UpdateOptions controls Update
type UpdateOptions struct {
	// Upsert inserts the replacement when nothing matched
	Upsert bool
}

// UpdateResult describes the outcome of an Update
type UpdateResult struct {
	Matched    int
	Upserted   bool
	UpsertedID string
}

// RemoveOptions controls Remove
type RemoveOptions struct {
	// Multi removes every match instead of the first one
	Multi bool
}

// driver is the primitive storage surface each engine implements.
// Raw documents are JSON; list returns them in insertion order.
type driver interface {
	list(ctx context.Context, match map[string]any) ([]stored, error)
	get(ctx context.Context, id string) ([]byte, bool, error)
	insert(ctx context.Context, id string, raw []byte) error
	put(ctx context.Context, id string, raw []byte) (bool, error)
	delete(ctx context.Context, ids []string) (int, error)
	ping(ctx context.Context) error
	close() error
}

type stored struct {
	id  string
	raw []byte
}

// Collection is a document collection over one storage engine.
// It is safe for concurrent use; writes are last-write-wins.
type Collection struct {
	name string
	drv  driver
}

func newCollection(name string, drv driver) *Collection {
	return &Collection{name: name, drv: drv}
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// FindOne returns the first document matching f, or ErrNotFound
func (c *Collection) FindOne(ctx context.Context, f Filter) (Document, error) {
	if id, ok := f.onlyID(); ok {
		raw, found, err := c.drv.get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("find %s/%s: %w", c.name, id, err)
		}
		if !found {
			return nil, ErrNotFound
		}
		return decode(raw)
	}

	docs, err := c.find(ctx, f, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Find returns every document matching f in insertion order
func (c *Collection) Find(ctx context.Context, f Filter) ([]Document, error) {
	return c.find(ctx, f, 0)
}

func (c *Collection) find(ctx context.Context, f Filter, limit int) ([]Document, error) {
	cf, err := f.compile()
	if err != nil {
		return nil, err
	}

	rows, err := c.drv.list(ctx, cf.match)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.name, err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		doc, err := decode(row.raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", c.name, row.id, err)
		}
		ok, err := cf.matches(doc)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		docs = append(docs, doc)
		if limit > 0 && len(docs) == limit {
			break
		}
	}
	return docs, nil
}

// Insert stores doc and returns the stored copy. A new uuid is assigned
// when doc carries no id.
func (c *Collection) Insert(ctx context.Context, doc Document) (Document, error) {
	doc = doc.clone()
	if doc.ID() == "" {
		doc[IDField] = uuid.NewString()
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	if err := c.drv.insert(ctx, doc.ID(), raw); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("insert %s/%s: %w", c.name, doc.ID(), err)
		}
		return nil, fmt.Errorf("insert %s: %w", c.name, err)
	}
	return decode(raw)
}

// Update replaces the first document matching f with doc, keeping its id.
// With opts.Upsert the replacement is inserted when nothing matched.
func (c *Collection) Update(ctx context.Context, f Filter, doc Document, opts UpdateOptions) (UpdateResult, error) {
	doc = doc.clone()

	targetID, err := c.firstID(ctx, f)
	if err != nil {
		return UpdateResult{}, err
	}

	if targetID != "" {
		if doc.carriesOtherID(targetID) {
			return UpdateResult{}, fmt.Errorf("update %s/%s: %w", c.name, targetID, ErrImmutableID)
		}
		doc[IDField] = targetID
		if _, err := c.write(ctx, targetID, doc); err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{Matched: 1}, nil
	}

	if !opts.Upsert {
		return UpdateResult{}, nil
	}

	id := doc.ID()
	if id == "" {
		id, _ = f.Match[IDField].(string)
	}
	if id == "" {
		id = uuid.NewString()
	}
	doc[IDField] = id

	created, err := c.write(ctx, id, doc)
	if err != nil {
		return UpdateResult{}, err
	}
	if !created {
		// another writer created it between the lookup and the write
		return UpdateResult{Matched: 1}, nil
	}
	return UpdateResult{Upserted: true, UpsertedID: id}, nil
}

// Remove deletes the first document matching f, or all of them with opts.Multi.
// Removing nothing is not an error.
func (c *Collection) Remove(ctx context.Context, f Filter, opts RemoveOptions) (int, error) {
	var ids []string

	if id, ok := f.onlyID(); ok {
		ids = []string{id}
	} else {
		limit := 1
		if opts.Multi {
			limit = 0
		}
		docs, err := c.find(ctx, f, limit)
		if err != nil {
			return 0, err
		}
		for _, doc := range docs {
			ids = append(ids, doc.ID())
		}
	}

	if len(ids) == 0 {
		return 0, nil
	}

	n, err := c.drv.delete(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("remove from %s: %w", c.name, err)
	}
	return n, nil
}

// Ping checks the backend is reachable
func (c *Collection) Ping(ctx context.Context) error {
	return c.drv.ping(ctx)
}

// Close releases the backend resources
func (c *Collection) Close() error {
	return c.drv.close()
}

func (c *Collection) firstID(ctx context.Context, f Filter) (string, error) {
	if id, ok := f.onlyID(); ok {
		_, found, err := c.drv.get(ctx, id)
		if err != nil {
			return "", fmt.Errorf("find %s/%s: %w", c.name, id, err)
		}
		if !found {
			return "", nil
		}
		return id, nil
	}

	docs, err := c.find(ctx, f, 1)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	return docs[0].ID(), nil
}

func (c *Collection) write(ctx context.Context, id string, doc Document) (bool, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encode document: %w", err)
	}
	created, err := c.drv.put(ctx, id, raw)
	if err != nil {
		return false, fmt.Errorf("write %s/%s: %w", c.name, id, err)
	}
	return created, nil
}

func (d Document) carriesOtherID(id string) bool {
	switch v := d[IDField].(type) {
	case nil:
		return false
	case string:
		return v != "" && v != id
	default:
		return true
	}
}

// clone makes a shallow copy so callers' maps are never mutated
func (d Document) clone() Document {
	out := make(Document, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	return out
}

func decode(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
