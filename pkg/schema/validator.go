package schema

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

var standardTypes = map[string]bool{
	"object": true, "array": true, "string": true, "number": true,
	"integer": true, "boolean": true, "null": true,
}

// Validator is a compiled schema predicate.
type Validator struct {
	root *node
}

type node struct {
	types       []string
	required    []string
	properties  map[string]*node
	addProps    *bool // nil: allowed; false: rejected
	addSchema   *node // schema-valued additionalProperties
	items       *node
	tupleItems  []*node
	oneOf       []*node
	anyOf       []*node
	allOf       []*node
	enum        []any
	minLength   *int
	maxLength   *int
	minimum     *float64
	maximum     *float64
	pattern     *regexp.Regexp
	minItems    *int
	maxItems    *int
}

// Compile translates a schema into a Validator. A "type" naming anything
// outside the standard set fails compilation; unresolved custom-type
// residue surfaces here as a startup error.
func Compile(s Schema) (*Validator, error) {
	n, err := compileNode(s, "#")
	if err != nil {
		return nil, err
	}
	return &Validator{root: n}, nil
}

// Validate checks v and returns a list of human-readable problems; an
// empty list means the value passed.
func (v *Validator) Validate(value any) []string {
	var errs []string
	v.root.check(value, "#", &errs)
	return errs
}

// Error joins the problem list into the single message reported to
// callers.
func Error(problems []string) string { return strings.Join(problems, "; ") }

func compileNode(s Schema, path string) (*node, error) {
	n := &node{}
	if s == nil {
		return n, nil
	}

	switch t := s["type"].(type) {
	case nil:
	case string:
		if !standardTypes[t] {
			return nil, fmt.Errorf("schema %s: unknown type %q", path, t)
		}
		n.types = []string{t}
	case []any:
		for _, e := range t {
			name, ok := e.(string)
			if !ok || !standardTypes[name] {
				return nil, fmt.Errorf("schema %s: unknown type %v", path, e)
			}
			n.types = append(n.types, name)
		}
	default:
		return nil, fmt.Errorf("schema %s: invalid type keyword %v", path, t)
	}

	if req, ok := s["required"].([]any); ok {
		for _, e := range req {
			name, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("schema %s: invalid required entry %v", path, e)
			}
			n.required = append(n.required, name)
		}
	} else if req, ok := s["required"].([]string); ok {
		n.required = append(n.required, req...)
	}

	if props, ok := s["properties"].(map[string]any); ok {
		n.properties = make(map[string]*node, len(props))
		for name, raw := range props {
			child, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("schema %s: property %q is not a schema", path, name)
			}
			cn, err := compileNode(child, path+"/properties/"+name)
			if err != nil {
				return nil, err
			}
			n.properties[name] = cn
		}
	}

	switch ap := s["additionalProperties"].(type) {
	case nil:
	case bool:
		n.addProps = &ap
	case map[string]any:
		cn, err := compileNode(ap, path+"/additionalProperties")
		if err != nil {
			return nil, err
		}
		n.addSchema = cn
	default:
		return nil, fmt.Errorf("schema %s: invalid additionalProperties", path)
	}

	switch items := s["items"].(type) {
	case nil:
	case map[string]any:
		cn, err := compileNode(items, path+"/items")
		if err != nil {
			return nil, err
		}
		n.items = cn
	case []any:
		for i, raw := range items {
			child, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("schema %s: items[%d] is not a schema", path, i)
			}
			cn, err := compileNode(child, fmt.Sprintf("%s/items/%d", path, i))
			if err != nil {
				return nil, err
			}
			n.tupleItems = append(n.tupleItems, cn)
		}
	default:
		return nil, fmt.Errorf("schema %s: invalid items", path)
	}

	for kw, dst := range map[string]*[]*node{"oneOf": &n.oneOf, "anyOf": &n.anyOf, "allOf": &n.allOf} {
		list, ok := s[kw].([]any)
		if !ok {
			continue
		}
		for i, raw := range list {
			child, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("schema %s: %s[%d] is not a schema", path, kw, i)
			}
			cn, err := compileNode(child, fmt.Sprintf("%s/%s/%d", path, kw, i))
			if err != nil {
				return nil, err
			}
			*dst = append(*dst, cn)
		}
	}

	if enum, ok := s["enum"].([]any); ok {
		n.enum = enum
	}
	n.minLength = intKeyword(s, "minLength")
	n.maxLength = intKeyword(s, "maxLength")
	n.minItems = intKeyword(s, "minItems")
	n.maxItems = intKeyword(s, "maxItems")
	n.minimum = floatKeyword(s, "minimum")
	n.maximum = floatKeyword(s, "maximum")

	if p, ok := s["pattern"].(string); ok {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("schema %s: invalid pattern: %w", path, err)
		}
		n.pattern = re
	}
	return n, nil
}

func intKeyword(s Schema, key string) *int {
	switch v := s[key].(type) {
	case int:
		return &v
	case int64:
		i := int(v)
		return &i
	case float64:
		i := int(v)
		return &i
	}
	return nil
}

func floatKeyword(s Schema, key string) *float64 {
	switch v := s[key].(type) {
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case float64:
		return &v
	}
	return nil
}

func (n *node) check(value any, path string, errs *[]string) {
	if len(n.types) > 0 && !typeMatches(n.types, value) {
		*errs = append(*errs, fmt.Sprintf("%s: expected %s, got %s",
			path, strings.Join(n.types, " or "), typeName(value)))
		return
	}

	if len(n.enum) > 0 {
		found := false
		for _, e := range n.enum {
			if equalValue(e, value) {
				found = true
				break
			}
		}
		if !found {
			*errs = append(*errs, fmt.Sprintf("%s: value not in enum", path))
		}
	}

	if s, ok := value.(string); ok {
		if n.minLength != nil && len(s) < *n.minLength {
			*errs = append(*errs, fmt.Sprintf("%s: shorter than minLength %d", path, *n.minLength))
		}
		if n.maxLength != nil && len(s) > *n.maxLength {
			*errs = append(*errs, fmt.Sprintf("%s: longer than maxLength %d", path, *n.maxLength))
		}
		if n.pattern != nil && !n.pattern.MatchString(s) {
			*errs = append(*errs, fmt.Sprintf("%s: does not match pattern %q", path, n.pattern))
		}
	}

	if f, ok := numberValue(value); ok {
		if n.minimum != nil && f < *n.minimum {
			*errs = append(*errs, fmt.Sprintf("%s: below minimum %v", path, *n.minimum))
		}
		if n.maximum != nil && f > *n.maximum {
			*errs = append(*errs, fmt.Sprintf("%s: above maximum %v", path, *n.maximum))
		}
	}

	if obj, ok := value.(map[string]any); ok {
		for _, name := range n.required {
			if _, present := obj[name]; !present {
				*errs = append(*errs, fmt.Sprintf("%s: missing required property %q", path, name))
			}
		}
		extras := make([]string, 0)
		for name, pv := range obj {
			if child, ok := n.properties[name]; ok {
				child.check(pv, path+"/"+name, errs)
				continue
			}
			if n.addSchema != nil {
				n.addSchema.check(pv, path+"/"+name, errs)
				continue
			}
			if n.addProps != nil && !*n.addProps {
				extras = append(extras, name)
			}
		}
		if len(extras) > 0 {
			sort.Strings(extras)
			*errs = append(*errs, fmt.Sprintf("%s: additional properties not allowed: %s",
				path, strings.Join(extras, ", ")))
		}
	}

	if arr, ok := value.([]any); ok {
		if n.minItems != nil && len(arr) < *n.minItems {
			*errs = append(*errs, fmt.Sprintf("%s: fewer than minItems %d", path, *n.minItems))
		}
		if n.maxItems != nil && len(arr) > *n.maxItems {
			*errs = append(*errs, fmt.Sprintf("%s: more than maxItems %d", path, *n.maxItems))
		}
		for i, item := range arr {
			ipath := fmt.Sprintf("%s/%d", path, i)
			if n.items != nil {
				n.items.check(item, ipath, errs)
			} else if i < len(n.tupleItems) {
				n.tupleItems[i].check(item, ipath, errs)
			}
		}
	}

	for _, sub := range n.allOf {
		sub.check(value, path, errs)
	}
	if len(n.anyOf) > 0 {
		if countPassing(n.anyOf, value, path) == 0 {
			*errs = append(*errs, fmt.Sprintf("%s: no anyOf branch matched", path))
		}
	}
	if len(n.oneOf) > 0 {
		if c := countPassing(n.oneOf, value, path); c != 1 {
			*errs = append(*errs, fmt.Sprintf("%s: %d oneOf branches matched, want exactly 1", path, c))
		}
	}
}

func countPassing(subs []*node, value any, path string) int {
	c := 0
	for _, sub := range subs {
		var sink []string
		sub.check(value, path, &sink)
		if len(sink) == 0 {
			c++
		}
	}
	return c
}

func typeMatches(types []string, value any) bool {
	for _, t := range types {
		switch t {
		case "object":
			if _, ok := value.(map[string]any); ok {
				return true
			}
		case "array":
			if _, ok := value.([]any); ok {
				return true
			}
		case "string":
			if _, ok := value.(string); ok {
				return true
			}
		case "boolean":
			if _, ok := value.(bool); ok {
				return true
			}
		case "null":
			if value == nil {
				return true
			}
		case "number":
			if _, ok := numberValue(value); ok {
				return true
			}
		case "integer":
			if f, ok := numberValue(value); ok && f == math.Trunc(f) {
				return true
			}
		}
	}
	return false
}

func numberValue(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func typeName(value any) string {
	switch value.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case nil:
		return "null"
	case float64, float32, int, int64:
		return "number"
	}
	return fmt.Sprintf("%T", value)
}

func equalValue(a, b any) bool {
	af, aok := numberValue(a)
	bf, bok := numberValue(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}
