package resolver

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
)

// builtinFunctions returns the functions every Resolver exposes to expressions.
func builtinFunctions() map[string]govaluate.ExpressionFunction {
	return map[string]govaluate.ExpressionFunction{
		"len": func(args ...any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("len: expected 1 argument, got %d", len(args))
			}
			switch v := args[0].(type) {
			case string:
				return float64(len(v)), nil
			case []any:
				return float64(len(v)), nil
			case map[string]any:
				return float64(len(v)), nil
			}
			return nil, fmt.Errorf("len: unsupported type %T", args[0])
		},
		"lower": stringFunc("lower", strings.ToLower),
		"upper": stringFunc("upper", strings.ToUpper),
		"trim":  stringFunc("trim", strings.TrimSpace),
	}
}

func stringFunc(name string, fn func(string) string) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: expected 1 argument, got %d", name, len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string, got %T", name, args[0])
		}
		return fn(s), nil
	}
}

// Validate reports whether expr parses with this Resolver's functions.
func (r *Resolver) Validate(expr string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expr, r.functions)
	return err
}

// ValidateExpression checks expr against the default function set.
func ValidateExpression(expr string) error {
	return defaultResolver.Validate(expr)
}

// evaluate runs an expression placeholder. Variables may name context keys directly or,
// bracketed, a dotted path: [lookup.data.price] * 2.
// ok is false when a referenced variable is not yet in the context.
func (r *Resolver) evaluate(expr string, ctx map[string]any) (any, bool, error) {
	compiled, err := govaluate.NewEvaluableExpressionWithFunctions(expr, r.functions)
	if err != nil {
		return nil, false, fmt.Errorf("failed to parse expression %q: %w", expr, err)
	}

	vars := compiled.Vars()
	params := make(map[string]any, len(vars))
	for _, name := range vars {
		val, ok := Lookup(ctx, name)
		if !ok {
			return nil, false, nil
		}
		params[name] = val
	}

	result, err := compiled.Evaluate(params)
	if err != nil {
		return nil, false, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}
	return result, true, nil
}
