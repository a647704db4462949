package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/deepvalue-ai/deepvalue/internal/config"
	"github.com/deepvalue-ai/deepvalue/internal/toolcache"
)

// Registry maps tool names to their implementations and trust
// classifications. All provider-backed tools here are trusted-external
// by construction; derived figures enter the cache elsewhere.
type Registry struct {
	tools map[string]tool.InvokableTool
	trust map[string]toolcache.TrustClass
}

// NewRegistry builds the full tool set for a session.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		tools: make(map[string]tool.InvokableTool),
		trust: make(map[string]toolcache.TrustClass),
	}
	r.register(ToolCompanyProfile, NewCompanyProfileTool(cfg), toolcache.TrustedExternal)
	r.register(ToolKeyRatios, NewKeyRatiosTool(cfg), toolcache.TrustedExternal)
	r.register(ToolFundamentals, NewFundamentalsTool(cfg), toolcache.TrustedExternal)
	r.register(ToolMarketData, NewMarketDataTool(cfg), toolcache.TrustedExternal)
	r.register(ToolCompanyFiling, NewCompanyFilingTool(cfg), toolcache.TrustedExternal)
	r.register(ToolCompanyNews, NewCompanyNewsTool(cfg), toolcache.TrustedExternal)
	return r
}

// NewEmptyRegistry builds a registry with no tools. Callers register
// their own set, typically stand-ins for provider-backed tools.
func NewEmptyRegistry() *Registry {
	return &Registry{
		tools: make(map[string]tool.InvokableTool),
		trust: make(map[string]toolcache.TrustClass),
	}
}

// Register adds or replaces a tool under the given name.
func (r *Registry) Register(name string, t tool.InvokableTool, trust toolcache.TrustClass) {
	r.tools[name] = t
	r.trust[name] = trust
}

func (r *Registry) register(name string, t tool.InvokableTool, trust toolcache.TrustClass) {
	r.Register(name, t, trust)
}

// Infos returns the tool schemas to bind onto the chat model.
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Trust returns the trust classification recorded for a tool.
func (r *Registry) Trust(name string) toolcache.TrustClass {
	if tc, ok := r.trust[name]; ok {
		return tc
	}
	return toolcache.DerivedLLM
}

// Invoke runs a tool by name with raw JSON arguments.
func (r *Registry) Invoke(ctx context.Context, name, argumentsJSON string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return t.InvokableRun(ctx, argumentsJSON)
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}
