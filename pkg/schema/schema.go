// Package schema implements the validation-schema model used by the
// connector's route compiler: deep merging of schema fragments, resolution
// of user-defined custom types into standard JSON-Schema types, and
// compilation into a validation predicate.
package schema

// Schema is a JSON-Schema-like fragment. Keys are standard keywords
// (type, required, properties, items, oneOf, anyOf, allOf,
// additionalProperties, ...) plus arbitrary annotations contributed by
// custom types (maxLength and friends).
type Schema = map[string]any

// Types maps a custom-type name to the fragment it stands for. A
// fragment's own "type" may name another custom type.
type Types = map[string]Schema

// Clone returns a deep copy of v (maps, slices and scalars).
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// Merge deep-merges override on top of base and returns a new schema.
// Scalars and lists from override win outright; map values merge
// recursively. Neither input is mutated.
func Merge(base, override Schema) Schema {
	if base == nil && override == nil {
		return nil
	}
	out := make(Schema, len(base)+len(override))
	for k, v := range base {
		out[k] = Clone(v)
	}
	for k, v := range override {
		bv, ok := out[k]
		bm, bIsMap := bv.(map[string]any)
		vm, vIsMap := v.(map[string]any)
		if ok && bIsMap && vIsMap {
			out[k] = Merge(bm, vm)
			continue
		}
		out[k] = Clone(v)
	}
	return out
}

// IsEmpty reports whether s carries no keywords at all.
func IsEmpty(s Schema) bool { return len(s) == 0 }
