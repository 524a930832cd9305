// Package resource holds process-wide metadata about queryable resources: the
// physical table behind each logical collection, the declared key-paths that
// may be filtered on, and optional payload schemas for mutations.
//
// A Registry is populated once at startup and never mutated afterwards, so it
// is safe for unsynchronized concurrent reads.
package resource

import (
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// Path type names admitted in resource definitions. These mirror the query
// layer's value types; the validator maps them when typing filter terms.
const (
	TypeString    = "string"
	TypeNumber    = "number"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
)

// Config describes one resource definition before validation.
type Config struct {
	// Name is the logical resource name, unique within a registry.
	Name string

	// Table is the physical table name. Defaults to Name when empty.
	Table string

	// EnforcePaths rejects queries over paths not listed in Paths.
	// With enforcement off, declared paths still provide type information
	// but undeclared paths are admitted and typed from operand syntax.
	EnforcePaths bool

	// SoftDelete marks rows deleted instead of removing them; queries then
	// only see live rows.
	SoftDelete bool

	// Paths maps dotted key-paths to their declared type name.
	Paths map[string]string

	// Schema is an optional JSON Schema document applied to create/update
	// payloads.
	Schema map[string]any
}

// Resource is validated, immutable resource metadata.
type Resource struct {
	Name         string
	Table        string
	EnforcePaths bool
	SoftDelete   bool

	paths  map[string]string
	schema *gojsonschema.Schema
}

// New validates a Config into a Resource.
func New(cfg Config) (*Resource, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("resource has no name")
	}
	if !isIdentifier(cfg.Name) {
		return nil, fmt.Errorf("resource name %q is not an identifier", cfg.Name)
	}
	table := cfg.Table
	if table == "" {
		table = cfg.Name
	}
	// Table names are embedded in SQL text, so they must be identifiers.
	if !isIdentifier(table) {
		return nil, fmt.Errorf("resource %s: table %q is not an identifier", cfg.Name, table)
	}

	paths := make(map[string]string, len(cfg.Paths))
	for path, typeName := range cfg.Paths {
		switch typeName {
		case TypeString, TypeNumber, TypeBoolean, TypeTimestamp:
		default:
			return nil, fmt.Errorf("resource %s: path %q has unknown type %q", cfg.Name, path, typeName)
		}
		paths[path] = typeName
	}

	res := &Resource{
		Name:         cfg.Name,
		Table:        table,
		EnforcePaths: cfg.EnforcePaths,
		SoftDelete:   cfg.SoftDelete,
		paths:        paths,
	}

	if cfg.Schema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(cfg.Schema))
		if err != nil {
			return nil, fmt.Errorf("resource %s: invalid payload schema: %w", cfg.Name, err)
		}
		res.schema = schema
	}

	return res, nil
}

// PathType returns the declared type name for a dotted path.
func (r *Resource) PathType(path string) (string, bool) {
	t, ok := r.paths[path]
	return t, ok
}

// HasDeclaredPaths reports whether any paths are declared at all.
func (r *Resource) HasDeclaredPaths() bool {
	return len(r.paths) > 0
}

// DeclaredPaths returns a copy of the declared path-to-type map.
func (r *Resource) DeclaredPaths() map[string]string {
	if len(r.paths) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.paths))
	for k, v := range r.paths {
		out[k] = v
	}
	return out
}

// HasSchema reports whether a payload schema is declared.
func (r *Resource) HasSchema() bool {
	return r.schema != nil
}

// ValidatePayload checks a mutation payload against the resource's JSON
// Schema, if one is declared. Payloads for schema-less resources only need
// to be valid JSON, which the store checks separately.
func (r *Resource) ValidatePayload(payload []byte) error {
	if r.schema == nil {
		return nil
	}
	result, err := r.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("payload rejected by schema: %s", errs[0])
		}
		return fmt.Errorf("payload rejected by schema")
	}
	return nil
}

// Registry is the process-wide set of resources, immutable after Load.
type Registry struct {
	resources map[string]*Resource
}

// NewRegistry builds a registry from validated resources.
// Duplicate names are rejected.
func NewRegistry(resources []*Resource) (*Registry, error) {
	byName := make(map[string]*Resource, len(resources))
	for _, res := range resources {
		if _, exists := byName[res.Name]; exists {
			return nil, fmt.Errorf("duplicate resource %q", res.Name)
		}
		byName[res.Name] = res
	}
	return &Registry{resources: byName}, nil
}

// Lookup returns the resource with the given name.
func (r *Registry) Lookup(name string) (*Resource, bool) {
	res, ok := r.resources[name]
	return res, ok
}

// Names returns all resource names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns all resources, ordered by name.
func (r *Registry) All() []*Resource {
	out := make([]*Resource, 0, len(r.resources))
	for _, name := range r.Names() {
		out = append(out, r.resources[name])
	}
	return out
}

func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return len(s) > 0
}
