package toolbox

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/spf13/afero"

	"github.com/mkade/sage/backend/chat"
	"github.com/mkade/sage/shared"
)

// Tool pairs a validated definition with its implementation.
type Tool struct {
	Definition chat.ToolDefinition
	Fn         chat.ToolFunction
}

type RegistryOptions struct {
	Fs afero.Fs
}

type RegistryOption func(*RegistryOptions)

func WithFs(fs afero.Fs) RegistryOption {
	return func(o *RegistryOptions) {
		o.Fs = fs
	}
}

// Registry caches tool definitions and implementations, joined by tool
// name. Load replaces the cached set wholesale; concurrent loads are not
// mutually excluded beyond last-writer-wins.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]chat.ToolDefinition
	fns     map[string]chat.ToolFunction
	lastDir string

	fs afero.Fs
}

func NewRegistry(opts ...RegistryOption) *Registry {
	options := &RegistryOptions{
		Fs: afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Registry{
		defs: map[string]chat.ToolDefinition{},
		fns:  map[string]chat.ToolFunction{},
		fs:   options.Fs,
	}
}

// Register adds a native tool, replacing any cached tool with the same
// name.
func (r *Registry) Register(tool Tool) error {
	if err := tool.Definition.Validate(); err != nil {
		return err
	}
	if tool.Fn == nil {
		return shared.Errorf(shared.ErrKindToolNotFound, "tool %q has no implementation", tool.Definition.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[tool.Definition.Name] = tool.Definition
	r.fns[tool.Definition.Name] = tool.Fn
	return nil
}

// Load discovers tool modules in dir (non-recursive), validates them and
// atomically replaces the cached set. The directory is remembered for lazy
// reloads by Resolve.
func (r *Registry) Load(dir string) error {
	defs, fns, err := loadDirectory(r.fs, dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = defs
	r.fns = fns
	r.lastDir = dir
	return nil
}

// Resolve returns the definitions for the requested tool names,
// duplicate-free. When the cache is empty it loads lazily from the
// last-known directory. Every name without a cached definition is reported
// in a single tool-not-found error.
func (r *Registry) Resolve(names []string) ([]chat.ToolDefinition, error) {
	r.mu.RLock()
	empty := len(r.defs) == 0 && len(r.fns) == 0
	lastDir := r.lastDir
	r.mu.RUnlock()

	if empty {
		if lastDir == "" {
			return nil, shared.Errorf(shared.ErrKindValidation, "no tools registered and no tool directory configured")
		}
		if err := r.Load(lastDir); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(names))
	definitions := make([]chat.ToolDefinition, 0, len(names))
	var missing []string
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		def, ok := r.defs[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		definitions = append(definitions, def)
	}

	if len(missing) > 0 {
		return nil, shared.Errorf(shared.ErrKindToolNotFound, "no definition registered for: %s", strings.Join(missing, ", "))
	}

	return definitions, nil
}

// Lookup returns the implementation for a tool name.
func (r *Registry) Lookup(name string) (chat.ToolFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.fns[name]
	return fn, ok
}

// NewTool builds a native tool whose parameter schema is reflected from the
// input struct's json tags.
func NewTool[T any](name, description string, handler func(ctx context.Context, input T) (string, error)) Tool {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	var toolInput T
	inputSchema := reflector.Reflect(toolInput)
	paramSchema := map[string]any{
		"type":       "object",
		"properties": inputSchema.Properties,
	}
	if len(inputSchema.Required) > 0 {
		paramSchema["required"] = inputSchema.Required
	}

	fn := func(ctx context.Context, args json.RawMessage) (string, error) {
		var input T
		if err := json.Unmarshal(args, &input); err != nil {
			return "", err
		}
		return handler(ctx, input)
	}

	return Tool{
		Definition: chat.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  paramSchema,
		},
		Fn: fn,
	}
}
