package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lyzr/querystore/common/store"
)

// Document is the semi-structured form of a record as the store sees it
type Document = store.Document

// Field names as they appear in documents and JSON payloads
const (
	FieldID                 = "id"
	FieldName               = "name"
	FieldTags               = "tags"
	FieldConnectionID       = "connectionId"
	FieldQueryText          = "queryText"
	FieldChartConfiguration = "chartConfiguration"
	FieldChartType          = "chartType"
	FieldChartFields        = "fields"
	FieldCreatedDate        = "createdDate"
	FieldModifiedDate       = "modifiedDate"
	FieldLastAccessDate     = "lastAccessDate"
	FieldCreatedBy          = "createdBy"
	FieldModifiedBy         = "modifiedBy"
)

// Query is a saved, user-authored SQL query with optional chart metadata
type Query struct {
	// Assigned by the store on first insert, immutable afterwards
	ID string `json:"id,omitempty"`

	Name string   `json:"name"`
	Tags []string `json:"tags,omitempty"`

	// Target data-source connection
	ConnectionID string `json:"connectionId,omitempty"`
	QueryText    string `json:"queryText,omitempty"`

	ChartConfiguration *ChartConfiguration `json:"chartConfiguration,omitempty"`

	CreatedDate    time.Time `json:"createdDate,omitzero"`
	ModifiedDate   time.Time `json:"modifiedDate,omitzero"`
	LastAccessDate time.Time `json:"lastAccessDate,omitzero"`

	// Audit fields
	CreatedBy  string `json:"createdBy"`
	ModifiedBy string `json:"modifiedBy"`
}

// ChartConfiguration is opaque chart-rendering metadata.
// Fields maps a chart property (x, y, split, ...) to a result column.
type ChartConfiguration struct {
	ChartType string         `json:"chartType,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Document converts the query into its stored form
func (q *Query) Document() (Document, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode query document: %w", err)
	}
	return doc, nil
}

// QueryFromDocument converts a stored document into a Query
func QueryFromDocument(doc Document) (*Query, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	q := &Query{}
	if err := json.Unmarshal(raw, q); err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}
	return q, nil
}

// Timestamp normalizes t to the precision documents keep: UTC milliseconds
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
