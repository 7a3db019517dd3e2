// Package search mirrors searchable relational rows into an external full-text
// index. The relational store stays authoritative: documents are written only
// after a transaction commits and can always be rebuilt with Reindex.
package search

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm/schema"
)

// Searchable is implemented by models whose rows are mirrored into the index.
// SearchableFields names struct fields (or column names) copied into the document.
type Searchable interface {
	TableName() string
	SearchableFields() []string
}

// Document is the projection of one row stored in the index.
type Document struct {
	Index  string
	ID     string
	Fields map[string]interface{}
}

var ErrNotRegistered = errors.New("search: model not registered")

type entry struct {
	index  string
	table  string
	typ    reflect.Type
	pk     *schema.Field
	fields []*schema.Field
}

// document extracts the indexed projection of rv; ok is false when rv carries
// no primary key (for example a bulk Where(...).Delete).
func (e *entry) document(ctx context.Context, rv reflect.Value) (Document, bool) {
	rv = reflect.Indirect(rv)
	if !rv.IsValid() || rv.Kind() != reflect.Struct || rv.Type() != e.typ {
		return Document{}, false
	}
	id, zero := e.pk.ValueOf(ctx, rv)
	if zero {
		return Document{}, false
	}
	fields := make(map[string]interface{}, len(e.fields))
	for _, f := range e.fields {
		v, _ := f.ValueOf(ctx, rv)
		fields[f.DBName] = v
	}
	return Document{Index: e.index, ID: fmt.Sprint(id), Fields: fields}, true
}

// Registry maps table names to the searchable types registered for them.
type Registry struct {
	prefix string

	mu      sync.RWMutex
	byTable map[string]*entry
	cache   sync.Map
}

// NewRegistry creates a registry; prefix is prepended to every index name.
func NewRegistry(prefix string) *Registry {
	return &Registry{prefix: prefix, byTable: make(map[string]*entry)}
}

// Register parses each model's schema and records its searchable fields.
func (r *Registry) Register(models ...Searchable) error {
	for _, m := range models {
		sch, err := schema.Parse(m, &r.cache, schema.NamingStrategy{})
		if err != nil {
			return fmt.Errorf("search: parse %T: %w", m, err)
		}
		if sch.PrioritizedPrimaryField == nil {
			return fmt.Errorf("search: %T has no primary key", m)
		}
		e := &entry{
			index: r.prefix + m.TableName(),
			table: m.TableName(),
			typ:   sch.ModelType,
			pk:    sch.PrioritizedPrimaryField,
		}
		for _, name := range m.SearchableFields() {
			f := sch.LookUpField(name)
			if f == nil {
				return fmt.Errorf("search: %T has no field %q", m, name)
			}
			e.fields = append(e.fields, f)
		}
		if len(e.fields) == 0 {
			return fmt.Errorf("search: %T declares no searchable fields", m)
		}
		r.mu.Lock()
		r.byTable[e.table] = e
		r.mu.Unlock()
	}
	return nil
}

// IndexName returns the index backing model.
func (r *Registry) IndexName(m Searchable) (string, error) {
	e, err := r.entryFor(m)
	if err != nil {
		return "", err
	}
	return e.index, nil
}

func (r *Registry) lookup(table string) (*entry, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byTable[table]
	return e, ok
}

func (r *Registry) entryFor(m Searchable) (*entry, error) {
	e, ok := r.lookup(m.TableName())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, m.TableName())
	}
	return e, nil
}
