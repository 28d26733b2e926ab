// Package job holds the immutable description of a unit of distributed work.
package job

import (
	"encoding/json"
	"maps"
)

// Well-known keys in the published job document.
const (
	KeySourceTreePath = "source_tree_path"
	KeySourceRevision = "source_revision"
	KeyRunID          = "run_id"
)

// Definition describes the work workers should run. It is built once before
// dispatch and never mutated afterwards; every accessor returns a copy.
type Definition struct {
	fields map[string]any
}

// NewDefinition builds a definition from configured job metadata. The
// configured source_tree_path wins over sourceTreePath.
func NewDefinition(runID string, meta map[string]any, sourceTreePath, revision string) *Definition {
	fields := make(map[string]any, len(meta)+3)
	maps.Copy(fields, meta)

	if v, ok := fields[KeySourceTreePath].(string); !ok || v == "" {
		fields[KeySourceTreePath] = sourceTreePath
	}
	if _, ok := fields[KeySourceRevision]; !ok && revision != "" {
		fields[KeySourceRevision] = revision
	}
	fields[KeyRunID] = runID

	return &Definition{fields: fields}
}

// RunID returns the run this definition belongs to.
func (d *Definition) RunID() string {
	id, _ := d.fields[KeyRunID].(string)
	return id
}

// SourceTreePath returns the location workers fetch the source tree from.
func (d *Definition) SourceTreePath() string {
	p, _ := d.fields[KeySourceTreePath].(string)
	return p
}

// Fields returns a shallow copy of the definition's fields.
func (d *Definition) Fields() map[string]any {
	return maps.Clone(d.fields)
}

// With returns the fields merged with transport-specific extras, leaving the
// definition untouched.
func (d *Definition) With(extra map[string]any) map[string]any {
	out := d.Fields()
	maps.Copy(out, extra)
	return out
}

// MarshalJSON encodes the definition as a flat JSON object.
func (d *Definition) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.fields)
}
