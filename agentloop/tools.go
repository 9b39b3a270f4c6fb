package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// Tool is a named capability the model can invoke.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema of the arguments object.
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolExecutor runs a tool with its decoded arguments.
type ToolExecutor func(ctx context.Context, args map[string]any) (string, error)

// ToolDefinition describes a tool for the model (serializable metadata).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// RegisteredTool pairs a tool definition with its executor.
type RegisteredTool struct {
	Definition ToolDefinition
	Executor   ToolExecutor
}

func (t *RegisteredTool) Name() string           { return t.Definition.Name }
func (t *RegisteredTool) Description() string    { return t.Definition.Description }
func (t *RegisteredTool) Schema() map[string]any { return t.Definition.Parameters }

func (t *RegisteredTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return t.Executor(ctx, args)
}

// ToolRegistry holds tools by name in registration order.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
	mu    sync.RWMutex
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds or replaces a tool. A replaced tool keeps its position.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the tool registered under name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns all tools in registration order.
func (r *ToolRegistry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns the definition of every tool in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	tools := r.Tools()
	defs := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = ToolDefinition{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()}
	}
	return defs
}

// Names returns the names of all registered tools in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

var (
	schemaReflector = &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}

	// ExpandedStruct looks the root up by type name, which unnamed
	// structs lack.
	unnamedReflector = &jsonschema.Reflector{
		DoNotReference: true,
	}

	argValidator = newArgValidator()
)

func newArgValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewTypedTool builds a tool whose schema is reflected from A and whose
// arguments are decoded into A and validated before run is called. Struct
// fields use json tags for names (omitempty marks optional),
// jsonschema_description for documentation and validate for constraints.
func NewTypedTool[A any](name, description string, run func(ctx context.Context, args A) (string, error)) *RegisteredTool {
	return &RegisteredTool{
		Definition: ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  ReflectSchema[A](),
		},
		Executor: func(ctx context.Context, raw map[string]any) (string, error) {
			var args A
			if err := DecodeArgs(raw, &args); err != nil {
				return "", err
			}
			return run(ctx, args)
		},
	}
}

// ReflectSchema returns the JSON schema of A's fields as a generic map.
func ReflectSchema[A any]() map[string]any {
	var zero A
	r := schemaReflector
	if reflect.TypeFor[A]().Name() == "" {
		r = unnamedReflector
	}
	s := r.Reflect(&zero)
	s.Version = ""
	s.ID = ""

	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("agentloop: reflecting schema for %T: %v", zero, err))
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("agentloop: decoding schema for %T: %v", zero, err))
	}
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	return out
}

// DecodeArgs converts a decoded argument map into the struct pointed to by
// dst, rejecting unknown keys, then validates it.
func DecodeArgs(raw map[string]any, dst any) error {
	if raw == nil {
		raw = map[string]any{}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if err := argValidator.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError turns validator output into a message naming the
// offending arguments.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("'%s' is required", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("'%s' must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
}
