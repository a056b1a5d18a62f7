package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/interpreter"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Filter selects documents. Match holds top-level field equalities; Expr is
// an optional CEL predicate over the variable `doc`. Both must hold.
// The zero Filter matches everything.
type Filter struct {
	Match map[string]any
	Expr  string
}

// All matches every document
func All() Filter {
	return Filter{}
}

// ByID matches the document with the given id
func ByID(id string) Filter {
	return Filter{Match: map[string]any{IDField: id}}
}

// Where matches documents for which the CEL expression is true, e.g.
//
//	doc.connectionId == "warehouse" && "finance" in doc.tags
func Where(expr string) Filter {
	return Filter{Expr: expr}
}

// Eq returns a copy of f with an extra field equality
func (f Filter) Eq(field string, value any) Filter {
	match := make(map[string]any, len(f.Match)+1)
	for k, v := range f.Match {
		match[k] = v
	}
	match[field] = value
	return Filter{Match: match, Expr: f.Expr}
}

// Validate reports whether the filter can be evaluated
func (f Filter) Validate() error {
	_, err := f.compile()
	return err
}

func (f Filter) onlyID() (string, bool) {
	if f.Expr != "" || len(f.Match) != 1 {
		return "", false
	}
	id, ok := f.Match[IDField].(string)
	return id, ok
}

type compiledFilter struct {
	match map[string]any
	prg   cel.Program
}

func (f Filter) compile() (*compiledFilter, error) {
	cf := &compiledFilter{}

	if len(f.Match) > 0 {
		// values are compared in their JSON-decoded form
		raw, err := json.Marshal(f.Match)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		if err := json.Unmarshal(raw, &cf.match); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
	}

	if f.Expr != "" {
		prg, err := programs.get(f.Expr)
		if err != nil {
			return nil, err
		}
		cf.prg = prg
	}

	return cf, nil
}

func (cf *compiledFilter) matches(doc Document) (bool, error) {
	for k, want := range cf.match {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false, nil
		}
	}

	if cf.prg == nil {
		return true, nil
	}

	out, _, err := cf.prg.Eval(map[string]any{
		"doc": map[string]any(doc),
	})
	if err != nil {
		var cancelled interpreter.EvalCancelledError
		if errors.As(err, &cancelled) {
			return false, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		// missing keys and type mismatches on a single document are a non-match
		return false, nil
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression did not return boolean, got %T", ErrInvalidFilter, out.Value())
	}
	return result, nil
}

const (
	// programCacheSize bounds the compiled programs kept across requests
	programCacheSize = 512

	// filterCostLimit caps the CEL cost of evaluating one document
	filterCostLimit = 1_000_000
)

// programCache holds the most recently used CEL programs keyed by expression
type programCache struct {
	once     sync.Once
	env      *cel.Env
	err      error
	compiled *lru.Cache[string, cel.Program]
}

var programs = newProgramCache(programCacheSize)

func newProgramCache(size int) *programCache {
	compiled, err := lru.New[string, cel.Program](size)
	if err != nil {
		panic(fmt.Sprintf("invalid program cache size %d: %v", size, err))
	}
	return &programCache{compiled: compiled}
}

func (p *programCache) len() int {
	return p.compiled.Len()
}

func (p *programCache) get(expr string) (cel.Program, error) {
	if prg, ok := p.compiled.Get(expr); ok {
		return prg, nil
	}

	p.once.Do(func() {
		p.env, p.err = cel.NewEnv(cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)))
	})
	if p.err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", p.err)
	}

	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, issues.Err())
	}
	if out := ast.OutputType().String(); out != "bool" && out != "dyn" {
		return nil, fmt.Errorf("%w: expression must return bool, got %s", ErrInvalidFilter, out)
	}

	prg, err := p.env.Program(ast, cel.CostLimit(filterCostLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}

	p.compiled.Add(expr, prg)

	return prg, nil
}
