package toolbox

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/grafana/sobek"
	"github.com/spf13/afero"

	"github.com/mkade/sage/backend/chat"
	"github.com/mkade/sage/shared"
)

// loadDirectory evaluates every .js module in dir and classifies its
// exports by shape: callables become implementations, objects become
// definitions. Every definition must have an implementation with the same
// name; the reverse is not required.
func loadDirectory(fs afero.Fs, dir string) (map[string]chat.ToolDefinition, map[string]chat.ToolFunction, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, nil, shared.Wrap(shared.ErrKindDirectoryAccess, err, "failed to read tool directory %q", dir)
	}

	defs := map[string]chat.ToolDefinition{}
	fns := map[string]chat.ToolFunction{}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".js") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := loadModule(fs, path, defs, fns); err != nil {
			return nil, nil, err
		}
	}

	for name := range defs {
		if _, ok := fns[name]; !ok {
			return nil, nil, shared.Errorf(shared.ErrKindToolNotFound, "tool %q is declared but has no implementation", name)
		}
	}

	return defs, fns, nil
}

func loadModule(fs afero.Fs, path string, defs map[string]chat.ToolDefinition, fns map[string]chat.ToolFunction) error {
	source, err := afero.ReadFile(fs, path)
	if err != nil {
		return shared.Wrap(shared.ErrKindFileRead, err, "failed to read tool module %q", path)
	}

	vm := sobek.New()
	vm.SetFieldNameMapper(sobek.TagFieldNameMapper("json", true))

	exports := vm.NewObject()
	module := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return shared.Wrap(shared.ErrKindFileImport, err, "failed to prepare module scope for %q", path)
	}
	if err := vm.Set("exports", exports); err != nil {
		return shared.Wrap(shared.ErrKindFileImport, err, "failed to prepare module scope for %q", path)
	}
	if err := vm.Set("module", module); err != nil {
		return shared.Wrap(shared.ErrKindFileImport, err, "failed to prepare module scope for %q", path)
	}

	if _, err := vm.RunScript(path, string(source)); err != nil {
		return shared.Wrap(shared.ErrKindFileImport, err, "failed to evaluate tool module %q", path)
	}

	// module.exports may have been reassigned by the script.
	exported := module.Get("exports").ToObject(vm)
	for _, key := range exported.Keys() {
		value := exported.Get(key)

		if callable, ok := sobek.AssertFunction(value); ok {
			fns[key] = scriptFunction(vm, callable, key)
			continue
		}

		def, err := definitionFromExport(value, key, path)
		if err != nil {
			return err
		}
		defs[def.Name] = def
	}

	return nil
}

// scriptFunction adapts an exported script callable to a ToolFunction. The
// owning VM stays alive through the closure; calls are serialized by the
// orchestrator's sequential tool execution.
func scriptFunction(vm *sobek.Runtime, callable sobek.Callable, name string) chat.ToolFunction {
	return func(ctx context.Context, args json.RawMessage) (string, error) {
		var parsed any
		if len(args) > 0 {
			if err := json.Unmarshal(args, &parsed); err != nil {
				return "", shared.Wrap(shared.ErrKindFunctionCall, err, "tool %q received unparsable arguments", name)
			}
		}

		result, err := callable(sobek.Undefined(), vm.ToValue(parsed))
		if err != nil {
			return "", shared.Wrap(shared.ErrKindFunctionCall, err, "tool %q failed", name)
		}
		if result == nil || sobek.IsUndefined(result) || sobek.IsNull(result) {
			return "", shared.Errorf(shared.ErrKindFunctionCall, "tool %q returned no result", name)
		}

		exported := result.Export()
		if text, ok := exported.(string); ok {
			return text, nil
		}
		data, err := json.Marshal(exported)
		if err != nil {
			return "", shared.Wrap(shared.ErrKindFunctionCall, err, "tool %q returned an unserializable result", name)
		}
		return string(data), nil
	}
}

func definitionFromExport(value sobek.Value, key, path string) (chat.ToolDefinition, error) {
	exported := value.Export()
	fields, ok := exported.(map[string]any)
	if !ok {
		return chat.ToolDefinition{}, shared.Errorf(shared.ErrKindInvalidTool, "export %q in %q is neither callable nor a tool definition", key, path)
	}

	var def chat.ToolDefinition

	name, ok := fields["name"].(string)
	if !ok {
		return chat.ToolDefinition{}, shared.Errorf(shared.ErrKindInvalidTool, "export %q in %q is missing a string name", key, path)
	}
	def.Name = name

	if raw, present := fields["description"]; present {
		description, ok := raw.(string)
		if !ok {
			return chat.ToolDefinition{}, shared.Errorf(shared.ErrKindInvalidTool, "tool %q has a non-string description", name)
		}
		def.Description = description
	}

	if raw, present := fields["parameters"]; present {
		parameters, ok := raw.(map[string]any)
		if !ok {
			return chat.ToolDefinition{}, shared.Errorf(shared.ErrKindInvalidTool, "tool %q has non-object parameters", name)
		}
		def.Parameters = parameters
	}

	if raw, present := fields["strict"]; present {
		strict, ok := raw.(bool)
		if !ok {
			return chat.ToolDefinition{}, shared.Errorf(shared.ErrKindInvalidTool, "tool %q has a non-boolean strict flag", name)
		}
		def.Strict = strict
	}

	if err := def.Validate(); err != nil {
		return chat.ToolDefinition{}, err
	}

	return def, nil
}
