package store

import "strings"

// Registry holds the schemas of all known tables, in registration order.
type Registry struct {
	schemas []*Schema
	byName  map[string]*Schema
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: []*Schema{},
		byName:  make(map[string]*Schema),
	}
}

// Register adds a schema to the registry, replacing one with the same table name.
func (r *Registry) Register(s *Schema) {
	name := strings.ToLower(s.Table)
	if old, ok := r.byName[name]; ok {
		for i, existing := range r.schemas {
			if existing == old {
				r.schemas[i] = s
			}
		}
	} else {
		r.schemas = append(r.schemas, s)
	}
	r.byName[name] = s
}

// Lookup returns the schema for a table name, compared case-insensitively.
func (r *Registry) Lookup(table string) (*Schema, bool) {
	s, ok := r.byName[strings.ToLower(table)]
	return s, ok
}

// All returns every registered schema.
func (r *Registry) All() []*Schema {
	return r.schemas
}

// Names returns the registered table names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.schemas))
	for i, s := range r.schemas {
		names[i] = s.Table
	}
	return names
}
