// Package resolver substitutes {{name}} placeholders in step parameters with values
// accumulated in a plan's context.
//
// Substitution is a structural walk: maps and slices are copied, and only string leaves
// are rewritten. A leaf that is exactly one placeholder takes the context value itself,
// so numbers stay numbers and objects stay objects. A placeholder embedded in other text
// is replaced by the value's text form. Placeholders whose name is absent are left as-is.
//
// A placeholder of the form {{= expr}} is evaluated with govaluate against the context.
package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
)

var (
	tokenPattern = regexp.MustCompile(`\{\{\s*(=?)\s*(.*?)\s*\}\}`)
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*(\.[A-Za-z0-9_\-]+)*$`)
)

// Resolver resolves templates against a context. The zero value is not usable; use New.
type Resolver struct {
	functions map[string]govaluate.ExpressionFunction
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFunction exposes a named function to {{= expr}} placeholders.
func WithFunction(name string, fn govaluate.ExpressionFunction) Option {
	return func(r *Resolver) {
		r.functions[name] = fn
	}
}

// New creates a Resolver with the built-in expression functions plus any added by opts.
func New(opts ...Option) *Resolver {
	r := &Resolver{functions: builtinFunctions()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultResolver = New()

// Resolve resolves params against ctx with the default Resolver.
func Resolve(params map[string]any, ctx map[string]any) (map[string]any, error) {
	return defaultResolver.Resolve(params, ctx)
}

// Resolve returns a copy of params with every resolvable placeholder substituted.
// The input is never modified.
func (r *Resolver) Resolve(params map[string]any, ctx map[string]any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out, err := r.walk(params, ctx, "")
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (r *Resolver) walk(v any, ctx map[string]any, path string) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, child := range t {
			resolved, err := r.walk(child, ctx, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			m[k] = resolved
		}
		return m, nil
	case []any:
		s := make([]any, len(t))
		for i, child := range t {
			resolved, err := r.walk(child, ctx, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			s[i] = resolved
		}
		return s, nil
	case []string:
		s := make([]string, len(t))
		for i, child := range t {
			resolved, err := r.leaf(child, ctx, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			text, err := textOf(resolved)
			if err != nil {
				return nil, err
			}
			s[i] = text
		}
		return s, nil
	case string:
		return r.leaf(t, ctx, path)
	default:
		return v, nil
	}
}

// leaf resolves a single string value.
func (r *Resolver) leaf(s string, ctx map[string]any, path string) (any, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	// Whole-leaf placeholder keeps the value's type.
	if loc := tokenPattern.FindStringSubmatchIndex(s); loc != nil && loc[0] == 0 && loc[1] == len(s) {
		val, ok, err := r.token(s[loc[2]:loc[3]] == "=", s[loc[4]:loc[5]], ctx)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", path, err)
		}
		if ok {
			return val, nil
		}
		return s, nil
	}

	var firstErr error
	out := tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := tokenPattern.FindStringSubmatch(match)
		val, ok, err := r.token(sub[1] == "=", sub[2], ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("parameter %q: %w", path, err)
			}
			return match
		}
		if !ok {
			return match
		}
		text, err := textOf(val)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("parameter %q: %w", path, err)
			}
			return match
		}
		return text
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// token looks up one placeholder body. ok is false when the placeholder should stay verbatim.
func (r *Resolver) token(isExpr bool, body string, ctx map[string]any) (any, bool, error) {
	if isExpr {
		return r.evaluate(body, ctx)
	}
	if !identPattern.MatchString(body) {
		return nil, false, nil
	}
	val, ok := Lookup(ctx, body)
	return val, ok, nil
}

// Lookup finds name in ctx: first as an exact key, then as a dotted path through nested maps.
func Lookup(ctx map[string]any, name string) (any, bool) {
	if ctx == nil {
		return nil, false
	}
	if v, ok := ctx[name]; ok {
		return v, true
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return nil, false
	}
	var cur any = ctx
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// textOf renders a context value for embedding in a larger string.
func textOf(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "null", nil
	case fmt.Stringer:
		return t.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cannot render value of type %T: %w", v, err)
	}
	return string(b), nil
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
