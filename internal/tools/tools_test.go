package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/toolplan"
	"github.com/ZanzyTHEbar/toolplan/internal/registry"
)

type backend struct {
	mu       sync.Mutex
	requests []request
	auth     string
	reply    func(req request) (int, string)
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.auth = r.Header.Get("Authorization")
	b.mu.Unlock()

	status, body := b.reply(req)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (b *backend) authorization() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.auth
}

func (b *backend) last() request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

func newBackend(t *testing.T, reply func(req request) (int, string)) (*backend, *registry.Registry) {
	t.Helper()
	b := &backend{reply: reply}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	client, err := NewClient(srv.URL, "secret", WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	reg := registry.MustNew()
	if err := Register(reg, client); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return b, reg
}

func run(t *testing.T, reg *registry.Registry, name string, params map[string]any) (*toolplan.ToolResult, error) {
	t.Helper()
	tool, ok := reg.Lookup(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	return tool.Execute(context.Background(), params)
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantErr  bool
	}{
		{"valid", "https://shop.example.com/graphql", false},
		{"empty", "  ", true},
		{"no scheme", "shop.example.com/graphql", true},
		{"unparseable", "http://[::1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.endpoint, "")
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient(%q) error = %v, wantErr %v", tt.endpoint, err, tt.wantErr)
			}
		})
	}
}

func TestRunQuery(t *testing.T) {
	b, reg := newBackend(t, func(request) (int, string) {
		return http.StatusOK, `{"data":{"productVariants":{"nodes":[{"id":"gid://1","price":"9.99"}]}}}`
	})

	result, err := run(t, reg, RunQuery, map[string]any{
		"query":     "query { productVariants(first: 1) { nodes { id price } } }",
		"variables": map[string]any{"first": 1},
		"extract":   map[string]any{"variantId": "productVariants.nodes.0.id", "missing": "nope.0"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Failed() {
		t.Fatalf("unexpected tool error: %s", result.Error)
	}
	data := result.Data.(map[string]any)
	if data["variantId"] != "gid://1" {
		t.Errorf("variantId = %v, want gid://1", data["variantId"])
	}
	if _, ok := data["missing"]; ok {
		t.Error("unresolvable extract paths must be skipped")
	}
	if _, ok := data["productVariants"]; !ok {
		t.Error("response data must be kept")
	}
	if result.Diagnostics["query"] == nil || result.Diagnostics["raw"] == "" {
		t.Errorf("diagnostics = %v", result.Diagnostics)
	}
	if got := b.authorization(); got != "Bearer secret" {
		t.Errorf("Authorization = %q", got)
	}
	if got := b.last().Variables["first"]; got != float64(1) {
		t.Errorf("variables.first = %v", got)
	}
}

func TestRunQuery_ReportedErrors(t *testing.T) {
	_, reg := newBackend(t, func(request) (int, string) {
		return http.StatusOK, `{"data":null,"errors":[{"message":"Field 'nope' doesn't exist"},{"message":"throttled"}]}`
	})

	result, err := run(t, reg, RunQuery, map[string]any{"query": "{ nope }"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Error != "Field 'nope' doesn't exist; throttled" {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestRunQuery_TransportFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"server error", http.StatusBadGateway, `upstream down`, ErrBackendStatus},
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrBackendStatus},
		{"not json", http.StatusOK, `<html>`, ErrDecodeResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reg := newBackend(t, func(request) (int, string) { return tt.status, tt.body })
			_, err := run(t, reg, RunQuery, map[string]any{"query": "{ shop { id } }"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Execute() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDocumentValidation(t *testing.T) {
	_, reg := newBackend(t, func(request) (int, string) { return http.StatusOK, `{"data":{}}` })
	tests := []struct {
		name   string
		tool   string
		params map[string]any
	}{
		{"query missing", RunQuery, map[string]any{}},
		{"query blank", RunQuery, map[string]any{"query": "  "}},
		{"mutation through run_query", RunQuery, map[string]any{"query": "mutation { x }"}},
		{"query through run_mutation", RunMutation, map[string]any{"mutation": "query { x }"}},
		{"variables not an object", RunQuery, map[string]any{"query": "{ x }", "variables": "id=1"}},
		{"extract not an object", RunQuery, map[string]any{"query": "{ x }", "extract": []any{"a"}}},
		{"commented mutation through run_query", RunQuery, map[string]any{"query": "# reprice\nmutation { x }"}},
		{"mutation after fragment through run_query", RunQuery, map[string]any{
			"query": "fragment V on ProductVariant { id }\nmutation { x { ...V } }"}},
		{"commented query through run_mutation", RunMutation, map[string]any{"mutation": "# mutation\nquery { x }"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, _ := reg.Lookup(tt.tool)
			if err := tool.Validate(tt.params); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestOperationType(t *testing.T) {
	tests := []struct {
		doc  string
		want string
	}{
		{"{ shop { id } }", "query"},
		{"query Shop { shop { id } }", "query"},
		{"  mutation($id: ID!) { x }", "mutation"},
		{"# look up first\n# then write\nmutation { x }", "mutation"},
		{"fragment V on Variant { id title(format: \"}\") }\nmutation { x { ...V } }", "mutation"},
		{"fragment V on Variant { id }\n{ variants { ...V } }", "query"},
		{"subscription { updates }", "subscription"},
		{"# only a comment", ""},
	}
	for _, tt := range tests {
		if got := operationType(tt.doc); got != tt.want {
			t.Errorf("operationType(%q) = %q, want %q", tt.doc, got, tt.want)
		}
	}
}

func TestUserErrors_StableOrder(t *testing.T) {
	data := map[string]any{
		"variantUpdate": map[string]any{"userErrors": []any{map[string]any{"message": "Price must be positive"}}},
		"productUpdate": map[string]any{"userErrors": []any{map[string]any{"message": "Title is too long"}}},
		"inventorySet":  map[string]any{"userErrors": []any{}},
	}
	want := "Title is too long; Price must be positive"
	for i := 0; i < 20; i++ {
		if got := userErrors(data); got != want {
			t.Fatalf("userErrors() = %q, want %q", got, want)
		}
	}
}

func TestRunMutation_UserErrors(t *testing.T) {
	b, reg := newBackend(t, func(req request) (int, string) {
		if req.Variables["price"] == "-1" {
			return http.StatusOK, `{"data":{"productVariantUpdate":{"productVariant":null,"userErrors":[{"field":["price"],"message":"Price must be positive"}]}}}`
		}
		return http.StatusOK, `{"data":{"productVariantUpdate":{"productVariant":{"id":"gid://1"},"userErrors":[]}}}`
	})
	mutation := "mutation($id: ID!, $price: Money!) { productVariantUpdate(input: {id: $id, price: $price}) { productVariant { id } userErrors { field message } } }"

	result, err := run(t, reg, RunMutation, map[string]any{
		"mutation":  mutation,
		"variables": map[string]any{"id": "gid://1", "price": "19.99"},
	})
	if err != nil || result.Failed() {
		t.Fatalf("Execute() = %+v, %v", result, err)
	}
	if !strings.HasPrefix(b.last().Query, "mutation") {
		t.Errorf("sent %q", b.last().Query)
	}

	result, err = run(t, reg, RunMutation, map[string]any{
		"mutation":  mutation,
		"variables": map[string]any{"id": "gid://1", "price": "-1"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Error != "Price must be positive" {
		t.Errorf("Error = %q, want user error", result.Error)
	}
}

func TestIntrospectSchema(t *testing.T) {
	b, reg := newBackend(t, func(req request) (int, string) {
		switch req.Variables["name"] {
		case nil:
			return http.StatusOK, `{"data":{"__schema":{"queryType":{"name":"QueryRoot"},"mutationType":{"name":"Mutation"},"types":[]}}}`
		case "ProductVariant":
			return http.StatusOK, `{"data":{"__type":{"name":"ProductVariant","kind":"OBJECT","fields":[]}}}`
		default:
			return http.StatusOK, `{"data":{"__type":null}}`
		}
	})

	result, err := run(t, reg, IntrospectSchema, map[string]any{})
	if err != nil || result.Failed() {
		t.Fatalf("Execute() = %+v, %v", result, err)
	}
	if _, ok := result.Data.(map[string]any)["__schema"]; !ok {
		t.Errorf("data = %v", result.Data)
	}
	if !strings.Contains(b.last().Query, "__schema") {
		t.Errorf("sent %q", b.last().Query)
	}

	result, err = run(t, reg, IntrospectSchema, map[string]any{"type_name": "ProductVariant"})
	if err != nil || result.Failed() {
		t.Fatalf("Execute() = %+v, %v", result, err)
	}

	result, err = run(t, reg, IntrospectSchema, map[string]any{"type_name": "Nope"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Failed() {
		t.Error("unknown type should be reported as a tool error")
	}
}

func TestDig(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": []any{map[string]any{"c": "x"}}},
	}
	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"a.b.0.c", "x", true},
		{"a.b.1.c", nil, false},
		{"a.b.-1", nil, false},
		{"a.b.c", nil, false},
		{"a.x", nil, false},
		{"", nil, false},
	}
	for _, tt := range tests {
		got, ok := dig(data, tt.path)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("dig(%q) = %v, %v; want %v, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}
