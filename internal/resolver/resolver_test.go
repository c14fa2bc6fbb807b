package resolver

import (
	"reflect"
	"testing"
)

func TestResolve_Placeholders(t *testing.T) {
	ctx := map[string]any{
		"foo":       "bar",
		"count":     42,
		"price":     19.5,
		"variantId": "gid://shopify/ProductVariant/1",
		"tags":      []any{"a", "b"},
		"lookup": map[string]any{
			"data": map[string]any{"variantId": "gid://2", "qty": 3},
		},
	}

	tests := []struct {
		name   string
		params map[string]any
		want   map[string]any
	}{
		{
			name:   "string value is not quoted",
			params: map[string]any{"id": "{{foo}}"},
			want:   map[string]any{"id": "bar"},
		},
		{
			name:   "whole leaf keeps number type",
			params: map[string]any{"n": "{{count}}"},
			want:   map[string]any{"n": 42},
		},
		{
			name:   "whole leaf keeps slice type",
			params: map[string]any{"t": "{{tags}}"},
			want:   map[string]any{"t": []any{"a", "b"}},
		},
		{
			name:   "embedded tokens render as text",
			params: map[string]any{"q": "id:{{foo}} n={{count}} p={{ price }}"},
			want:   map[string]any{"q": "id:bar n=42 p=19.5"},
		},
		{
			name:   "embedded composite renders as JSON",
			params: map[string]any{"q": "tags={{tags}}"},
			want:   map[string]any{"q": `tags=["a","b"]`},
		},
		{
			name:   "dotted path",
			params: map[string]any{"v": "{{lookup.data.variantId}}"},
			want:   map[string]any{"v": "gid://2"},
		},
		{
			name:   "unknown token left verbatim",
			params: map[string]any{"id": "{{missing}}", "x": "a {{missing}} b"},
			want:   map[string]any{"id": "{{missing}}", "x": "a {{missing}} b"},
		},
		{
			name: "nested structures",
			params: map[string]any{
				"input": map[string]any{
					"lines": []any{
						map[string]any{"variantId": "{{variantId}}", "quantity": 1},
					},
					"note": "literal {braces} stay",
				},
			},
			want: map[string]any{
				"input": map[string]any{
					"lines": []any{
						map[string]any{"variantId": "gid://shopify/ProductVariant/1", "quantity": 1},
					},
					"note": "literal {braces} stay",
				},
			},
		},
		{
			name:   "string slice",
			params: map[string]any{"ids": []string{"{{foo}}", "{{count}}", "x"}},
			want:   map[string]any{"ids": []string{"bar", "42", "x"}},
		},
		{
			name:   "non-identifier body is ignored",
			params: map[string]any{"x": "{{ not an ident }}"},
			want:   map[string]any{"x": "{{ not an ident }}"},
		},
		{
			name:   "expression",
			params: map[string]any{"total": "{{= price * 2}}", "more": "{{= [lookup.data.qty] + 1}}"},
			want:   map[string]any{"total": 39.0, "more": 4.0},
		},
		{
			name:   "expression with missing variable stays verbatim",
			params: map[string]any{"x": "{{= later + 1}}"},
			want:   map[string]any{"x": "{{= later + 1}}"},
		},
		{
			name:   "expression function",
			params: map[string]any{"x": "{{= upper(foo)}}", "n": "{{= len(foo)}}"},
			want:   map[string]any{"x": "BAR", "n": 3.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.params, ctx)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestResolve_EmptyContextLeavesParamsUnchanged(t *testing.T) {
	params := map[string]any{"id": "{{foo}}", "n": 1, "nested": map[string]any{"a": "{{b}}"}}
	got, err := Resolve(params, map[string]any{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !reflect.DeepEqual(got, params) {
		t.Errorf("Resolve() = %#v, want %#v", got, params)
	}
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	inner := map[string]any{"a": "{{foo}}"}
	params := map[string]any{"inner": inner, "list": []any{"{{foo}}"}}
	if _, err := Resolve(params, map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if inner["a"] != "{{foo}}" {
		t.Errorf("input map was mutated: %v", inner["a"])
	}
	if params["list"].([]any)[0] != "{{foo}}" {
		t.Errorf("input slice was mutated: %v", params["list"])
	}
}

func TestResolve_NilParams(t *testing.T) {
	got, err := Resolve(nil, map[string]any{"foo": "bar"})
	if err != nil || got != nil {
		t.Errorf("Resolve(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestResolve_ExpressionErrors(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"parse error", map[string]any{"x": "{{= 1 + }}"}},
		{"evaluation error", map[string]any{"x": "{{= foo * 2}}"}},
		{"embedded parse error", map[string]any{"x": "value {{= (1 }}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Resolve(tt.params, map[string]any{"foo": "bar"}); err == nil {
				t.Error("expected an error, got nil")
			}
		})
	}
}

func TestWithFunction(t *testing.T) {
	r := New(WithFunction("double", func(args ...any) (any, error) {
		return args[0].(float64) * 2, nil
	}))
	got, err := r.Resolve(map[string]any{"x": "{{= double(n)}}"}, map[string]any{"n": 4})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got["x"] != 8.0 {
		t.Errorf("x = %v, want 8", got["x"])
	}
	if err := ValidateExpression("double(1)"); err == nil {
		t.Error("default resolver should not know custom functions")
	}
	if err := r.Validate("double(1)"); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLookup(t *testing.T) {
	ctx := map[string]any{
		"a.b": "exact",
		"a":   map[string]any{"b": "nested", "c": map[string]any{"d": 1}},
		"s":   "scalar",
	}
	tests := []struct {
		name   string
		want   any
		wantOK bool
	}{
		{"a.b", "exact", true},
		{"a.c.d", 1, true},
		{"a.x", nil, false},
		{"s.x", nil, false},
		{"missing", nil, false},
	}
	for _, tt := range tests {
		got, ok := Lookup(ctx, tt.name)
		if ok != tt.wantOK || !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Lookup(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}
