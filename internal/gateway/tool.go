// Package gateway implements the tool invocation gateway: schema
// validation, timeouts, retries, and circuit breaking in front of every
// external tool the orchestrator touches.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/QuantForge/internal/domain"
)

// Param declares one argument in a tool's schema.
type Param struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string|integer|number|boolean|array|object
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Descriptor declares a tool's identity, schema, and retry class.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Dependency is the circuit-breaker key of the external system behind
	// the tool. Empty means the tool is local and never circuit-broken.
	Dependency string `json:"dependency,omitempty"`
	// Idempotent marks read-only tools. Only these are retried
	// automatically on transient failures.
	Idempotent bool    `json:"idempotent"`
	Params     []Param `json:"params"`
}

// Tool is one external capability invoked through the gateway.
type Tool interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Registry manages the set of registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous registration of the name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Descriptor().Name] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown tool %q", domain.ErrValidation, name)
	}
	return t, nil
}

// Names returns all registered tool names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ValidateArgs checks raw JSON arguments against the declared params:
// required fields present, JSON types matching, enum membership, and no
// undeclared fields. Performed before dispatch; a violation never reaches
// the tool.
func ValidateArgs(d Descriptor, raw json.RawMessage) error {
	var args map[string]any
	if len(raw) == 0 {
		args = map[string]any{}
	} else if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("%w: arguments are not a JSON object: %v", domain.ErrValidation, err)
	}

	declared := make(map[string]Param, len(d.Params))
	for _, p := range d.Params {
		declared[p.Name] = p
		if _, ok := args[p.Name]; !ok {
			if p.Required {
				return fmt.Errorf("%w: tool %s: missing required argument %q", domain.ErrValidation, d.Name, p.Name)
			}
			continue
		}
		if err := checkType(p, args[p.Name]); err != nil {
			return fmt.Errorf("%w: tool %s: %v", domain.ErrValidation, d.Name, err)
		}
	}
	for name := range args {
		if _, ok := declared[name]; !ok {
			return fmt.Errorf("%w: tool %s: undeclared argument %q", domain.ErrValidation, d.Name, name)
		}
	}
	return nil
}

func checkType(p Param, v any) error {
	switch p.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", p.Name)
		}
		if len(p.Enum) > 0 {
			for _, e := range p.Enum {
				if s == e {
					return nil
				}
			}
			return fmt.Errorf("argument %q must be one of %v, got %q", p.Name, p.Enum, s)
		}
	case "integer":
		f, ok := v.(float64)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("argument %q must be an integer", p.Name)
		}
	case "number":
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("argument %q must be a number", p.Name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", p.Name)
		}
	case "array":
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("argument %q must be an array", p.Name)
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("argument %q must be an object", p.Name)
		}
	default:
		return fmt.Errorf("argument %q has undeclarable type %q", p.Name, p.Type)
	}
	return nil
}
