// Package tools provides the backend tools a plan can call: run_query, run_mutation
// and introspect_schema, all speaking GraphQL to one store backend.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/toolplan"
	"github.com/ZanzyTHEbar/toolplan/internal/registry"
)

const (
	RunQuery         = "run_query"
	RunMutation      = "run_mutation"
	IntrospectSchema = "introspect_schema"
)

const categoryBackend = "Backend"

// All returns the backend tools bound to client.
func All(client *Client) []toolplan.Tool {
	return []toolplan.Tool{
		registry.NewFuncTool(
			RunQuery,
			client.runQuery,
			registry.WithDescription("Runs a read-only GraphQL query against the store backend."),
			registry.WithCategory(categoryBackend),
			registry.WithParameters(documentParameters("query", "GraphQL query document")),
			registry.WithValidator(documentValidator("query", false)),
		),
		registry.NewFuncTool(
			RunMutation,
			client.runMutation,
			registry.WithDescription("Runs a GraphQL mutation against the store backend."),
			registry.WithCategory(categoryBackend),
			registry.WithParameters(documentParameters("mutation", "GraphQL mutation document")),
			registry.WithValidator(documentValidator("mutation", true)),
		),
		registry.NewFuncTool(
			IntrospectSchema,
			client.introspect,
			registry.WithDescription("Describes the backend schema, or one named type."),
			registry.WithCategory(categoryBackend),
			registry.WithParameters(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type_name": map[string]any{"type": "string", "description": "Type to describe; omit for the root types"},
				},
			}),
		),
	}
}

// Register adds the backend tools to reg.
func Register(reg *registry.Registry, client *Client) error {
	for _, t := range All(client) {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func documentParameters(key, description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			key:         map[string]any{"type": "string", "description": description},
			"variables": map[string]any{"type": "object", "description": "Document variables"},
			"extract": map[string]any{
				"type":        "object",
				"description": "Names mapped to dotted paths in the response data, e.g. {\"variantId\": \"productVariants.nodes.0.id\"}",
			},
		},
		"required": []string{key},
	}
}

// documentValidator requires a non-empty document under key. Mutations must be
// declared as such, and queries must not be.
func documentValidator(key string, mutation bool) func(map[string]any) error {
	return func(params map[string]any) error {
		if params == nil {
			return fmt.Errorf("params cannot be nil")
		}
		doc, ok := params[key].(string)
		if !ok || strings.TrimSpace(doc) == "" {
			return fmt.Errorf("missing required parameter %q", key)
		}
		isMutation := operationType(doc) == "mutation"
		if mutation && !isMutation {
			return fmt.Errorf("%q must be a mutation document", key)
		}
		if !mutation && isMutation {
			return fmt.Errorf("mutations must use %s", RunMutation)
		}
		if v, ok := params["variables"]; ok && v != nil {
			if _, ok := v.(map[string]any); !ok {
				return fmt.Errorf("variables must be an object, got %T", v)
			}
		}
		if v, ok := params["extract"]; ok && v != nil {
			if _, ok := v.(map[string]any); !ok {
				return fmt.Errorf("extract must be an object, got %T", v)
			}
		}
		return nil
	}
}

func (c *Client) runQuery(ctx context.Context, params map[string]any) (*toolplan.ToolResult, error) {
	return c.document(ctx, params["query"].(string), params)
}

func (c *Client) runMutation(ctx context.Context, params map[string]any) (*toolplan.ToolResult, error) {
	result, err := c.document(ctx, params["mutation"].(string), params)
	if err != nil || result.Failed() {
		return result, err
	}
	if msg := userErrors(result.Data); msg != "" {
		result.Error = msg
	}
	return result, nil
}

const (
	schemaQuery = `query { __schema { queryType { name } mutationType { name } types { name kind } } }`
	typeQuery   = `query($name: String!) { __type(name: $name) { name kind description fields { name description type { name kind ofType { name kind } } } inputFields { name type { name kind ofType { name kind } } } } }`
)

func (c *Client) introspect(ctx context.Context, params map[string]any) (*toolplan.ToolResult, error) {
	name, _ := params["type_name"].(string)
	if name == "" {
		return c.document(ctx, schemaQuery, nil)
	}
	result, err := c.document(ctx, typeQuery, map[string]any{"variables": map[string]any{"name": name}})
	if err != nil || result.Failed() {
		return result, err
	}
	if data, ok := result.Data.(map[string]any); ok && data["__type"] == nil {
		result.Error = fmt.Sprintf("type %q not found", name)
	}
	return result, nil
}

// document sends doc with the variables in params and shapes the tool result.
// Paths listed in params["extract"] are lifted to the top level of the result data.
func (c *Client) document(ctx context.Context, doc string, params map[string]any) (*toolplan.ToolResult, error) {
	variables, _ := params["variables"].(map[string]any)

	resp, raw, err := c.Do(ctx, doc, variables)
	if err != nil {
		return nil, err
	}

	data := make(map[string]any, len(resp.Data))
	for k, v := range resp.Data {
		data[k] = v
	}
	if extract, ok := params["extract"].(map[string]any); ok {
		for name, p := range extract {
			path, _ := p.(string)
			if v, found := dig(resp.Data, path); found {
				data[name] = v
			}
		}
	}

	return &toolplan.ToolResult{
		Data:  data,
		Error: resp.ErrorMessage(),
		Diagnostics: map[string]any{
			"query":     doc,
			"variables": variables,
			"raw":       string(raw),
		},
	}, nil
}

// dig follows a dotted path through maps and, with numeric segments, lists.
func dig(v any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// userErrors collects messages from the userErrors lists of mutation payloads.
func userErrors(data any) string {
	payloads, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	keys := make([]string, 0, len(payloads))
	for k := range payloads {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msgs []string
	for _, k := range keys {
		payload, ok := payloads[k].(map[string]any)
		if !ok {
			continue
		}
		list, _ := payload["userErrors"].([]any)
		for _, item := range list {
			if e, ok := item.(map[string]any); ok {
				if msg, ok := e["message"].(string); ok && msg != "" {
					msgs = append(msgs, msg)
				}
			}
		}
	}
	return strings.Join(msgs, "; ")
}

// operationType returns the keyword of the first operation in a GraphQL document:
// "query", "mutation" or "subscription". Comments and fragment definitions before it
// are skipped, and an anonymous "{ ... }" selection is a query.
func operationType(doc string) string {
	i := 0
	for i < len(doc) {
		switch c := doc[i]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ',':
			i++
		case c == '#':
			for i < len(doc) && doc[i] != '\n' {
				i++
			}
		case c == '{':
			return "query"
		default:
			start := i
			for i < len(doc) && isNameByte(doc[i]) {
				i++
			}
			word := doc[start:i]
			if word != "fragment" {
				return word
			}
			i = skipBlock(doc, i)
		}
	}
	return ""
}

// skipBlock returns the index just past the first balanced { } block at or after i.
// Braces inside string literals and comments do not count.
func skipBlock(doc string, i int) int {
	depth := 0
	for i < len(doc) {
		switch doc[i] {
		case '#':
			for i < len(doc) && doc[i] != '\n' {
				i++
			}
			continue
		case '"':
			i++
			for i < len(doc) && doc[i] != '"' {
				if doc[i] == '\\' {
					i++
				}
				i++
			}
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
		i++
	}
	return i
}

func isNameByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
