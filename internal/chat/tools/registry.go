package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	logx "github.com/converso/server/pkg/logger"
)

// ErrNotFound is returned by Resolve and Invoke for unregistered tool names.
var ErrNotFound = fmt.Errorf("tool not found")

// Registry maps tool names to invokable capabilities. The declared schemas
// are advertised to the chat model; the orchestrator dispatches calls back
// through Invoke. Adding a tool never touches orchestrator control flow.
type Registry struct {
	tools map[string]tool.InvokableTool
	order []string
}

func NewRegistry(ts ...tool.InvokableTool) (*Registry, error) {
	r := &Registry{tools: make(map[string]tool.InvokableTool, len(ts))}
	for _, t := range ts {
		info, err := t.Info(context.Background())
		if err != nil {
			return nil, fmt.Errorf("read tool info: %w", err)
		}
		if _, dup := r.tools[info.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", info.Name)
		}
		r.tools[info.Name] = t
		r.order = append(r.order, info.Name)
	}
	return r, nil
}

// Default builds the registry with the built-in business tools.
func Default() (*Registry, error) {
	return NewRegistry(
		createStockPriceTool(),
		createScheduleMeetingTool(),
	)
}

// Infos returns the declared tool schemas in registration order, for binding
// to the chat model.
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		info, err := r.tools[name].Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("read tool info for %q: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Resolve returns the tool registered under name.
func (r *Registry) Resolve(name string) (tool.InvokableTool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return t, nil
}

// Invoke runs the named tool with the provider-supplied JSON arguments and
// returns its textual result.
func (r *Registry) Invoke(ctx context.Context, name, argumentsJSON string) (string, error) {
	t, err := r.Resolve(name)
	if err != nil {
		return "", err
	}

	logx.Debug().Str("tool", name).Msg("invoking tool")
	out, err := t.InvokableRun(ctx, argumentsJSON)
	if err != nil {
		return "", fmt.Errorf("tool %q: %w", name, err)
	}
	return out, nil
}
