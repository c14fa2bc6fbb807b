package planfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/toolplan"
	"github.com/ZanzyTHEbar/toolplan/internal/registry"
)

func TestFile_Validate_TableDriven(t *testing.T) {
	tests := []struct {
		name    string
		file    File
		wantErr bool
	}{
		{
			"valid plan",
			File{Steps: []Step{
				{ID: "a", Tool: "run_query"},
				{ID: "b", Tool: "run_mutation", DependsOn: []string{"a"}},
			}},
			false,
		},
		{"empty plan", File{}, false},
		{"missing id", File{Steps: []Step{{Tool: "run_query"}}}, true},
		{"missing tool", File{Steps: []Step{{ID: "a"}}}, true},
		{
			"duplicate id",
			File{Steps: []Step{{ID: "a", Tool: "t"}, {ID: "a", Tool: "t"}}},
			true,
		},
		{
			"missing dependency",
			File{Steps: []Step{{ID: "a", Tool: "t", DependsOn: []string{"b"}}}},
			true,
		},
		{
			"cycle",
			File{Steps: []Step{
				{ID: "a", Tool: "t", DependsOn: []string{"b"}},
				{ID: "b", Tool: "t", DependsOn: []string{"a"}},
			}},
			true,
		},
		{
			"self dependency",
			File{Steps: []Step{{ID: "a", Tool: "t", DependsOn: []string{"a"}}}},
			true,
		},
		{
			"valid expression",
			File{Steps: []Step{{ID: "a", Tool: "t", Args: map[string]any{
				"limit": "{{= [page.size] * 2 }}",
			}}}},
			false,
		},
		{
			"malformed expression in nested list",
			File{Steps: []Step{{ID: "a", Tool: "t", Args: map[string]any{
				"filters": []any{map[string]any{"value": "{{= (1 + }}"}},
			}}}},
			true,
		},
		{
			"plain placeholders are not parsed",
			File{Steps: []Step{{ID: "a", Tool: "t", Args: map[string]any{"id": "{{variantId}}"}}}},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.file.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && toolplan.ErrorCode(err) != toolplan.ErrCodeValidation {
				t.Errorf("ErrorCode() = %s, want %s", toolplan.ErrorCode(err), toolplan.ErrCodeValidation)
			}
		})
	}
}

func TestFile_Calls(t *testing.T) {
	f := File{Steps: []Step{
		{ID: "a", Tool: "run_query", Args: map[string]any{"query": "{ shop { name } }"}},
		{ID: "b", Tool: "run_mutation", Args: map[string]any{"id": "{{shopId}}"}, DependsOn: []string{"a"}},
	}}
	calls := f.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "a" || calls[1].Name != "run_mutation" {
		t.Errorf("unexpected calls: %+v", calls)
	}
	if len(calls[1].DependsOn) != 1 || calls[1].DependsOn[0] != "a" {
		t.Errorf("dependencies not carried: %+v", calls[1].DependsOn)
	}
}

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "plan.yaml")
	yamlDoc := `name: reprice
message: set the price to 19.99
steps:
  - id: lookup
    tool: run_query
    args:
      query: "{ productVariants(first: 1) { nodes { id } } }"
  - id: update
    tool: run_mutation
    depends_on: [lookup]
    args:
      variables:
        id: "{{variantId}}"
        price: "19.99"
`
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadAndValidate(yamlPath)
	if err != nil {
		t.Fatalf("LoadAndValidate() error = %v", err)
	}
	if f.Name != "reprice" || f.Message != "set the price to 19.99" || len(f.Steps) != 2 {
		t.Fatalf("unexpected file: %+v", f)
	}
	vars, ok := f.Steps[1].Args["variables"].(map[string]any)
	if !ok || vars["id"] != "{{variantId}}" {
		t.Errorf("nested args not decoded as maps: %#v", f.Steps[1].Args)
	}

	jsonPath := filepath.Join(dir, "plan.json")
	jsonDoc := `{"name":"j","steps":[{"id":"a","tool":"run_query","args":{"query":"{ shop { id } }"}}]}`
	if err := os.WriteFile(jsonPath, []byte(jsonDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	if f, err := LoadAndValidate(jsonPath); err != nil || f.Steps[0].Tool != "run_query" {
		t.Fatalf("json load = %+v, %v", f, err)
	}

	cyclic := filepath.Join(dir, "cyclic.yml")
	if err := os.WriteFile(cyclic, []byte("steps:\n  - {id: a, tool: t, depends_on: [a]}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAndValidate(cyclic); err == nil {
		t.Error("expected cycle error")
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFile_VerifyTools(t *testing.T) {
	noop := func(context.Context, map[string]any) (*toolplan.ToolResult, error) {
		return &toolplan.ToolResult{}, nil
	}
	reg := registry.MustNew(registry.NewFuncTool("run_query", noop))

	ok := File{Steps: []Step{{ID: "a", Tool: "run_query"}}}
	if err := ok.VerifyTools(reg); err != nil {
		t.Errorf("VerifyTools() error = %v", err)
	}

	bad := File{Steps: []Step{{ID: "a", Tool: "run_query"}, {ID: "b", Tool: "drop_table"}}}
	err := bad.VerifyTools(reg)
	if !errors.Is(err, toolplan.ErrToolNotFound) {
		t.Fatalf("VerifyTools() error = %v, want ErrToolNotFound", err)
	}
	if toolplan.ErrorCode(err) != toolplan.ErrCodeToolNotFound {
		t.Errorf("ErrorCode() = %s", toolplan.ErrorCode(err))
	}
}
