package schema

// Keywords whose values are themselves schemas (or lists of schemas);
// resolution descends through these.
var combinators = []string{"oneOf", "anyOf", "allOf"}

// ResolveTypes rewrites every custom-type reference inside s into the
// underlying standard type, merging the custom type's sibling keywords
// into the referencing node. Custom types are resolved against themselves
// first, so chains (a -> b -> c) collapse fully. Malformed cyclic
// definitions make no further progress; the residual name is left in
// place and rejected later by Compile. Returns a new schema; s is not
// mutated.
func ResolveTypes(s Schema, types Types) Schema {
	if IsEmpty(s) || len(types) == 0 {
		return Clone(s).(map[string]any)
	}
	resolved := make(Types, len(types))
	for name, def := range types {
		d := Clone(def).(map[string]any)
		resolveNode(d, types)
		resolved[name] = d
	}
	out := Clone(s).(map[string]any)
	resolveNode(out, resolved)
	return out
}

// resolveNode rewrites the node's own "type" position, then descends.
func resolveNode(node Schema, types Types) {
	if node == nil {
		return
	}
	if _, ok := node["type"]; ok {
		resolveTypePosition(node, types)
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for _, v := range props {
			if child, ok := v.(map[string]any); ok {
				resolveNode(child, types)
			}
		}
	}
	switch items := node["items"].(type) {
	case map[string]any:
		resolveNode(items, types)
	case []any:
		for _, v := range items {
			if child, ok := v.(map[string]any); ok {
				resolveNode(child, types)
			}
		}
	}
	for _, kw := range combinators {
		if list, ok := node[kw].([]any); ok {
			for _, v := range list {
				if child, ok := v.(map[string]any); ok {
					resolveNode(child, types)
				}
			}
		}
	}
	if ap, ok := node["additionalProperties"].(map[string]any); ok {
		resolveNode(ap, types)
	}
}

// resolveTypePosition substitutes custom names inside the node's "type"
// value. When a substitution splices in a name that is itself custom, the
// index is rewound and the position re-resolved; the number of
// re-resolutions per position is bounded by the size of the type table so
// a cyclic definition terminates with the residual name in place.
func resolveTypePosition(node Schema, types Types) {
	names := typeList(node["type"])
	limit := len(types) + 1

	i := 0
	attempts := 0
	for i < len(names) {
		name, ok := names[i].(string)
		if !ok {
			i++
			continue
		}
		def, ok := types[name]
		if !ok {
			i++
			attempts = 0
			continue
		}
		repl := typeList(def["type"])
		names = append(names[:i], append(append([]any{}, repl...), names[i+1:]...)...)
		adoptSiblings(node, def)
		attempts++
		if attempts >= limit {
			// no progress on a malformed cycle; leave residue
			i++
			attempts = 0
		}
	}

	node["type"] = collapseTypes(names)
}

// adoptSiblings merges every keyword of the custom type except "type"
// into the node. A keyword already present on the node is kept, except
// that object-valued keywords deep-merge the custom type's value under
// the node's value.
func adoptSiblings(node, def Schema) {
	for k, v := range def {
		if k == "type" {
			continue
		}
		cur, present := node[k]
		if !present {
			node[k] = Clone(v)
			continue
		}
		cm, curIsMap := cur.(map[string]any)
		vm, defIsMap := v.(map[string]any)
		if curIsMap && defIsMap {
			node[k] = Merge(vm, cm)
		}
	}
}

func typeList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return append([]any{}, t...)
	default:
		return []any{t}
	}
}

// collapseTypes deduplicates and collapses a single-valued list back to a
// scalar.
func collapseTypes(names []any) any {
	seen := make(map[any]bool, len(names))
	out := make([]any, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
