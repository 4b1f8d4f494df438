package connector

import (
	"context"
	"fmt"

	"github.com/jsonrpcsuite/jrs/pkg/schema"
)

// compiledRoute is the dispatch-ready form of one route table entry.
type compiledRoute struct {
	name string

	// bare is set when the route was registered as a bare callable; it
	// bypasses validation and the pipeline.
	bare HandlerFunc

	// stages is the ordered queue: before..., original handler, after...
	stages     []Stage
	handlerIdx int

	validator *schema.Validator
}

// strictObject is the base every explicit validation merges over:
// parameters are strict objects unless the user overrides these keys.
func strictObject() schema.Schema {
	return schema.Schema{"type": "object", "additionalProperties": false}
}

// compileRoutes normalizes the route table into dispatch-ready routes.
// The input table is never mutated, so compiling a table that was
// already compiled yields routes that behave identically.
func compileRoutes(routes Routes, defaults Defaults) (map[string]*compiledRoute, error) {
	out := make(map[string]*compiledRoute, len(routes))
	for name, raw := range routes {
		cr, err := compileRoute(name, raw, defaults)
		if err != nil {
			return nil, err
		}
		out[name] = cr
	}
	return out, nil
}

func compileRoute(name string, raw any, defaults Defaults) (*compiledRoute, error) {
	var cfg RouteConfig
	switch r := raw.(type) {
	case HandlerFunc:
		return &compiledRoute{name: name, bare: r}, nil
	case func(context.Context, any) (any, error):
		return &compiledRoute{name: name, bare: r}, nil
	case RouteConfig:
		cfg = r
	case *RouteConfig:
		cfg = *r
	default:
		return nil, fmt.Errorf("route %q: unsupported config type %T", name, raw)
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("route %q: handler is required", name)
	}

	validation := cfg.Validation
	if !schema.IsEmpty(validation) {
		validation = schema.Merge(strictObject(), validation)
	}

	if len(cfg.Inherits) > 0 {
		var before, after []Stage
		var inherited schema.Schema
		for _, alias := range cfg.Inherits {
			parent, ok := defaults.Parents[alias]
			if !ok {
				return nil, fmt.Errorf("route %q: unknown parent %q", name, alias)
			}
			before = append(before, parent.Before...)
			after = append(after, parent.After...)
			if !schema.IsEmpty(parent.Validation) {
				inherited = schema.Merge(inherited, parent.Validation)
			}
		}
		cfg.Before = append(before, cfg.Before...)
		cfg.After = append(after, cfg.After...)
		if !schema.IsEmpty(inherited) {
			// route's explicit values win over inherited fragments
			validation = schema.Merge(inherited, validation)
		}
	}

	cr := &compiledRoute{name: name}
	if !schema.IsEmpty(validation) {
		validation = schema.ResolveTypes(validation, defaults.ValidationTypes)
		v, err := schema.Compile(validation)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", name, err)
		}
		cr.validator = v
	}

	cr.stages = make([]Stage, 0, len(cfg.Before)+1+len(cfg.After))
	cr.stages = append(cr.stages, cfg.Before...)
	cr.handlerIdx = len(cr.stages)
	cr.stages = append(cr.stages, Stage{Handler: cfg.Handler, Scope: cfg.Scope})
	cr.stages = append(cr.stages, cfg.After...)
	return cr, nil
}
