package toolbox_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/mkade/sage/backend/chat"
	"github.com/mkade/sage/backend/toolbox"
	"github.com/mkade/sage/shared"
)

func writeModule(t *testing.T, fs afero.Fs, path, source string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(source), 0o644); err != nil {
		t.Fatalf("failed to write module %q: %v", path, err)
	}
}

const searchModule = `
exports.search = function (args) {
	return "results for " + args.q;
};

exports.searchDefinition = {
	name: "search",
	description: "Search the web",
	parameters: {
		type: "object",
		properties: {
			q: { type: "string" }
		},
		required: ["q"]
	}
};
`

func TestLoadScriptModule(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/tools/search.js", searchModule)

	registry := toolbox.NewRegistry(toolbox.WithFs(fs))
	if err := registry.Load("/tools"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	defs, err := registry.Resolve([]string{"search"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "search" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if defs[0].Description != "Search the web" {
		t.Errorf("unexpected description: %q", defs[0].Description)
	}
	if defs[0].Parameters["type"] != "object" {
		t.Errorf("unexpected parameters: %+v", defs[0].Parameters)
	}

	fn, ok := registry.Lookup("search")
	if !ok {
		t.Fatal("expected search implementation to be cached")
	}

	result, err := fn(context.Background(), json.RawMessage(`{"q":"go testing"}`))
	if err != nil {
		t.Fatalf("tool call failed: %v", err)
	}
	if result != "results for go testing" {
		t.Errorf("unexpected result: %q", result)
	}
}

func TestLoadDeclaredButUnimplementedTool(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/tools/broken.js", `
exports.definition = { name: "phantom", description: "never implemented" };
`)

	registry := toolbox.NewRegistry(toolbox.WithFs(fs))
	err := registry.Load("/tools")
	if !shared.IsKind(err, shared.ErrKindToolNotFound) {
		t.Fatalf("expected tool-not-found error, got %v", err)
	}
}

func TestLoadImplementationOnlyToolIsLegal(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/tools/impl.js", `
exports.helper = function (args) { return "ok"; };
`)

	registry := toolbox.NewRegistry(toolbox.WithFs(fs))
	if err := registry.Load("/tools"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, ok := registry.Lookup("helper"); !ok {
		t.Error("expected implementation-only tool to be cached")
	}
	if _, err := registry.Resolve([]string{"helper"}); !shared.IsKind(err, shared.ErrKindToolNotFound) {
		t.Errorf("expected resolve of undeclared tool to fail, got %v", err)
	}
}

func TestLoadInvalidDeclarations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		source   string
		wantKind shared.ErrorKind
	}{
		{
			name:     "bad name pattern",
			source:   `exports.def = { name: "bad name!" };`,
			wantKind: shared.ErrKindInvalidTool,
		},
		{
			name:     "missing name",
			source:   `exports.def = { description: "nameless" };`,
			wantKind: shared.ErrKindInvalidTool,
		},
		{
			name:     "non-string description",
			source:   `exports.def = { name: "tool", description: 42 };`,
			wantKind: shared.ErrKindInvalidTool,
		},
		{
			name:     "non-object parameters",
			source:   `exports.def = { name: "tool", parameters: "not an object" };`,
			wantKind: shared.ErrKindInvalidTool,
		},
		{
			name:     "non-boolean strict",
			source:   `exports.def = { name: "tool", strict: "yes" };`,
			wantKind: shared.ErrKindInvalidTool,
		},
		{
			name:     "syntax error",
			source:   `exports.def = {`,
			wantKind: shared.ErrKindFileImport,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := afero.NewMemMapFs()
			writeModule(t, fs, "/tools/tool.js", tt.source)

			registry := toolbox.NewRegistry(toolbox.WithFs(fs))
			err := registry.Load("/tools")
			if !shared.IsKind(err, tt.wantKind) {
				t.Fatalf("expected %s error, got %v", tt.wantKind, err)
			}
		})
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	t.Parallel()

	registry := toolbox.NewRegistry(toolbox.WithFs(afero.NewMemMapFs()))
	err := registry.Load("/does-not-exist")
	if !shared.IsKind(err, shared.ErrKindDirectoryAccess) {
		t.Fatalf("expected directory access error, got %v", err)
	}
}

func TestLoadReplacesCache(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/v1/search.js", searchModule)
	writeModule(t, fs, "/v2/other.js", `
exports.other = function (args) { return "other"; };
exports.otherDefinition = { name: "other" };
`)

	registry := toolbox.NewRegistry(toolbox.WithFs(fs))
	if err := registry.Load("/v1"); err != nil {
		t.Fatalf("first Load failed: %v", err)
	}
	if err := registry.Load("/v2"); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}

	if _, ok := registry.Lookup("search"); ok {
		t.Error("expected old cache to be replaced")
	}
	if _, ok := registry.Lookup("other"); !ok {
		t.Error("expected new cache to contain other")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	registry := toolbox.NewRegistry()
	if err := registry.Register(toolbox.NewTool("search", "search the web", func(ctx context.Context, input struct {
		Q string `json:"q"`
	}) (string, error) {
		return "ok", nil
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	t.Run("duplicates collapsed", func(t *testing.T) {
		defs, err := registry.Resolve([]string{"search", "search"})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if len(defs) != 1 {
			t.Errorf("expected 1 definition, got %d", len(defs))
		}
	})

	t.Run("missing names listed", func(t *testing.T) {
		_, err := registry.Resolve([]string{"search", "alpha", "beta"})
		if !shared.IsKind(err, shared.ErrKindToolNotFound) {
			t.Fatalf("expected tool-not-found error, got %v", err)
		}
		for _, name := range []string{"alpha", "beta"} {
			if !strings.Contains(err.Error(), name) {
				t.Errorf("expected error to name %q: %v", name, err)
			}
		}
	})
}

func TestResolveWithoutConfiguration(t *testing.T) {
	t.Parallel()

	registry := toolbox.NewRegistry()
	_, err := registry.Resolve([]string{"search"})
	if !shared.IsKind(err, shared.ErrKindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScriptToolReturningNoValue(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/tools/void.js", `
exports.void_tool = function (args) {};
exports.voidDefinition = { name: "void_tool" };
`)

	registry := toolbox.NewRegistry(toolbox.WithFs(fs))
	if err := registry.Load("/tools"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	fn, ok := registry.Lookup("void_tool")
	if !ok {
		t.Fatal("expected void_tool implementation")
	}

	_, err := fn(context.Background(), json.RawMessage(`{}`))
	if !shared.IsKind(err, shared.ErrKindFunctionCall) {
		t.Fatalf("expected function call error for missing result, got %v", err)
	}
}

func TestScriptToolNonStringResultSerialized(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeModule(t, fs, "/tools/obj.js", `
exports.obj_tool = function (args) { return { hits: 2 }; };
exports.objDefinition = { name: "obj_tool" };
`)

	registry := toolbox.NewRegistry(toolbox.WithFs(fs))
	if err := registry.Load("/tools"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	fn, _ := registry.Lookup("obj_tool")
	result, err := fn(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("tool call failed: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"hits": float64(2)}, parsed); diff != "" {
		t.Errorf("unexpected result (-want +got):\n%s", diff)
	}
}

func TestNewToolSchema(t *testing.T) {
	t.Parallel()

	type input struct {
		Query string `json:"query" jsonschema:"required"`
		Limit int    `json:"limit,omitempty"`
	}

	tool := toolbox.NewTool("lookup", "look things up", func(ctx context.Context, in input) (string, error) {
		return in.Query, nil
	})

	if tool.Definition.Name != "lookup" {
		t.Errorf("unexpected name %q", tool.Definition.Name)
	}
	if tool.Definition.Parameters["type"] != "object" {
		t.Errorf("expected object schema, got %+v", tool.Definition.Parameters)
	}

	result, err := tool.Fn(context.Background(), json.RawMessage(`{"query":"go"}`))
	if err != nil {
		t.Fatalf("tool call failed: %v", err)
	}
	if result != "go" {
		t.Errorf("unexpected result %q", result)
	}

	var def chat.ToolDefinition
	data, err := json.Marshal(tool.Definition)
	if err != nil {
		t.Fatalf("definition does not serialize: %v", err)
	}
	if err := json.Unmarshal(data, &def); err != nil {
		t.Fatalf("definition does not round-trip: %v", err)
	}
}
