package validation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lyzr/querystore/common/models"
	"gopkg.in/go-playground/validator.v9"
)

// ErrValidation is the sentinel every *ValidationError unwraps to
var ErrValidation = errors.New("validation failed")

// Violation is one failed rule
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError enumerates every violated rule of a candidate record
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Fields returns the offending field paths in rule order
func (e *ValidationError) Fields() []string {
	fields := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		fields[i] = v.Field
	}
	return fields
}

// Kind is the declared type of a field
type Kind int

const (
	KindString Kind = iota
	KindStringList
	KindDate
	KindObject
	KindOpenMap
)

// FieldRule declares how one field is checked and normalized
type FieldRule struct {
	Field string
	Kind  Kind

	// Required fields must be present (after EmptyAsAbsent is applied)
	Required bool

	// Tag is a validator tag applied to string values, e.g. "required,min=1"
	Tag string

	// EmptyAsAbsent treats "" exactly like a missing key
	EmptyAsAbsent bool

	// Default produces the value for a missing field, evaluated per call
	Default func(now time.Time) any

	// Fields are the nested rules of a KindObject field
	Fields []FieldRule
}

func nowDefault(now time.Time) any {
	return now
}

// QueryRules is the declarative rule set for saved queries
var QueryRules = []FieldRule{
	{Field: models.FieldID, Kind: KindString, Tag: "required"},
	{Field: models.FieldName, Kind: KindString, Required: true, Tag: "required,min=1"},
	{Field: models.FieldTags, Kind: KindStringList},
	{Field: models.FieldConnectionID, Kind: KindString, EmptyAsAbsent: true},
	{Field: models.FieldQueryText, Kind: KindString, EmptyAsAbsent: true},
	{Field: models.FieldChartConfiguration, Kind: KindObject, Fields: []FieldRule{
		{Field: models.FieldChartType, Kind: KindString, EmptyAsAbsent: true},
		{Field: models.FieldChartFields, Kind: KindOpenMap},
	}},
	{Field: models.FieldCreatedDate, Kind: KindDate, Default: nowDefault},
	{Field: models.FieldModifiedDate, Kind: KindDate, Default: nowDefault},
	{Field: models.FieldCreatedBy, Kind: KindString, Required: true, Tag: "required,min=1"},
	{Field: models.FieldModifiedBy, Kind: KindString, Required: true, Tag: "required,min=1"},
	{Field: models.FieldLastAccessDate, Kind: KindDate, Default: nowDefault},
}

// Schema validates candidate records against a rule set
type Schema struct {
	rules    []FieldRule
	validate *validator.Validate
	now      func() time.Time
}

// Option configures a Schema
type Option func(*Schema)

// WithClock overrides the clock used for default timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Schema) {
		s.now = now
	}
}

// WithRules replaces the rule set
func WithRules(rules []FieldRule) Option {
	return func(s *Schema) {
		s.rules = rules
	}
}

// NewQuerySchema creates the saved-query schema
func NewQuerySchema(opts ...Option) *Schema {
	s := &Schema{
		rules:    QueryRules,
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Normalize checks candidate and returns a new document with defaults applied
// and declared types coerced. candidate is not modified.
func (s *Schema) Normalize(candidate models.Document) (models.Document, error) {
	now := models.Timestamp(s.now())

	out, violations := s.object(s.rules, "", candidate, now)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return out, nil
}

// Validate normalizes candidate and converts it into a Query
func (s *Schema) Validate(candidate models.Document) (*models.Query, error) {
	doc, err := s.Normalize(candidate)
	if err != nil {
		return nil, err
	}
	return models.QueryFromDocument(doc)
}

func (s *Schema) object(rules []FieldRule, prefix string, in map[string]any, now time.Time) (map[string]any, []Violation) {
	out := make(map[string]any, len(rules))
	var violations []Violation

	known := make(map[string]bool, len(rules))
	for _, rule := range rules {
		known[rule.Field] = true
		path := prefix + rule.Field

		v, present := in[rule.Field]
		if present && rule.EmptyAsAbsent && v == "" {
			present = false
		}

		if !present {
			switch {
			case rule.Required:
				violations = append(violations, Violation{Field: path, Rule: "required", Message: "is required"})
			case rule.Default != nil:
				out[rule.Field] = rule.Default(now)
			}
			continue
		}

		nv, vs := s.field(rule, path, v, now)
		if len(vs) > 0 {
			violations = append(violations, vs...)
			continue
		}
		out[rule.Field] = nv
	}

	var unknown []string
	for k := range in {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		violations = append(violations, Violation{Field: prefix + k, Rule: "unknown", Message: "is not allowed"})
	}

	return out, violations
}

func (s *Schema) field(rule FieldRule, path string, v any, now time.Time) (any, []Violation) {
	switch rule.Kind {
	case KindString:
		str, ok := v.(string)
		if !ok {
			return nil, []Violation{typeViolation(path, "a string", v)}
		}
		if rule.Tag != "" {
			if vs := s.tag(path, str, rule.Tag); len(vs) > 0 {
				return nil, vs
			}
		}
		return str, nil

	case KindStringList:
		return stringList(path, v)

	case KindDate:
		t, ok := coerceDate(v)
		if !ok {
			return nil, []Violation{{Field: path, Rule: "date", Message: "must be a valid date"}}
		}
		return models.Timestamp(t), nil

	case KindObject:
		m, ok := asMap(v)
		if !ok {
			return nil, []Violation{typeViolation(path, "an object", v)}
		}
		out, vs := s.object(rule.Fields, path+".", m, now)
		if len(vs) > 0 {
			return nil, vs
		}
		return out, nil

	case KindOpenMap:
		m, ok := asMap(v)
		if !ok {
			return nil, []Violation{typeViolation(path, "an object", v)}
		}
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, nil
	}

	return nil, []Violation{{Field: path, Rule: "kind", Message: fmt.Sprintf("unsupported rule kind %d", rule.Kind)}}
}

func (s *Schema) tag(path, value, tag string) []Violation {
	err := s.validate.Var(value, tag)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []Violation{{Field: path, Rule: tag, Message: err.Error()}}
	}

	violations := make([]Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("failed %q constraint", fe.Tag())
		switch fe.Tag() {
		case "required":
			msg = "must not be empty"
		case "min":
			msg = fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		violations = append(violations, Violation{Field: path, Rule: fe.Tag(), Message: msg})
	}
	return violations
}

func stringList(path string, v any) (any, []Violation) {
	switch list := v.(type) {
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(list))
		var violations []Violation
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				violations = append(violations, typeViolation(fmt.Sprintf("%s[%d]", path, i), "a string", item))
				continue
			}
			out[i] = s
		}
		if len(violations) > 0 {
			return nil, violations
		}
		return out, nil
	}
	return nil, []Violation{typeViolation(path, "an array", v)}
}

func coerceDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, !d.IsZero()
	case *time.Time:
		if d == nil {
			return time.Time{}, false
		}
		return *d, !d.IsZero()
	case string:
		t, err := time.Parse(time.RFC3339Nano, d)
		return t, err == nil
	case float64:
		if math.IsNaN(d) || math.Abs(d) > maxEpochMillis {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(d)), true
	case int64:
		return epochMillis(d)
	case int:
		return epochMillis(int64(d))
	}
	return time.Time{}, false
}

// maxEpochMillis allows 1e8 days either side of the epoch
const maxEpochMillis = 8.64e15

func epochMillis(ms int64) (time.Time, bool) {
	if ms > maxEpochMillis || ms < -maxEpochMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case models.Document:
		return m, true
	}
	return nil, false
}

func typeViolation(path, want string, got any) Violation {
	return Violation{
		Field:   path,
		Rule:    "type",
		Message: fmt.Sprintf("must be %s, got %T", want, got),
	}
}
