package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/cloudwego/eino/schema"

	"github.com/deepvalue-ai/deepvalue/internal/toolcache"
	"github.com/deepvalue-ai/deepvalue/internal/tools"
)

// ToolLoop drives the prompt -> tool-requests -> re-prompt cycle.
// Every tool request is resolved through the session cache, so a
// repeated (tool, params) pair is served without touching the
// provider again.
type ToolLoop struct {
	engine        *Engine
	registry      *tools.Registry
	cache         *toolcache.Cache
	maxIterations int
}

// NewToolLoop wires a loop for one session.
func NewToolLoop(e *Engine, reg *tools.Registry, cache *toolcache.Cache, maxIterations int) *ToolLoop {
	if maxIterations <= 0 {
		maxIterations = 12
	}
	return &ToolLoop{engine: e, registry: reg, cache: cache, maxIterations: maxIterations}
}

// Run invokes the engine until it stops requesting tools or the
// iteration cap is hit. It returns the final assistant message and
// the full conversation including tool exchanges.
func (l *ToolLoop) Run(ctx context.Context, msgs []*schema.Message) (*schema.Message, []*schema.Message, error) {
	infos, err := l.registry.Infos(ctx)
	if err != nil {
		return nil, nil, err
	}

	conversation := append([]*schema.Message(nil), msgs...)
	for i := 0; i < l.maxIterations; i++ {
		out, err := l.engine.Generate(ctx, conversation, infos)
		if err != nil {
			// Engine unreachable is fatal for the session; the
			// orchestrator classifies it upstream.
			return nil, conversation, err
		}
		conversation = append(conversation, out)

		if len(out.ToolCalls) == 0 {
			return out, conversation, nil
		}

		for _, tc := range out.ToolCalls {
			result := l.resolveToolCall(ctx, tc)
			conversation = append(conversation, schema.ToolMessage(result, tc.ID))
		}
	}

	// Iteration cap: return the last assistant message rather than
	// spinning forever on a tool-happy model.
	log.Printf("tool loop hit iteration cap (%d)", l.maxIterations)
	last := conversation[len(conversation)-1]
	return last, conversation, nil
}

// resolveToolCall serves one tool request through the cache. A failed
// call is reported back to the model as text so the stage can proceed
// degraded; it is never cached.
func (l *ToolLoop) resolveToolCall(ctx context.Context, tc schema.ToolCall) string {
	name := tc.Function.Name
	if !l.registry.Has(name) {
		return fmt.Sprintf("ERROR: unknown tool %q", name)
	}

	params := NormalizeArguments(tc.Function.Arguments)
	data, err := l.cache.GetOrFetch(ctx, name, params, func(ctx context.Context) (string, toolcache.TrustClass, error) {
		out, err := l.registry.Invoke(ctx, name, tc.Function.Arguments)
		if err != nil {
			return "", "", err
		}
		return out, l.registry.Trust(name), nil
	})
	if err != nil {
		log.Printf("tool %s failed: %v", name, err)
		return fmt.Sprintf("ERROR: %v", err)
	}
	return data
}

// NormalizeArguments flattens a tool call's JSON arguments into the
// cache's canonical scalar map: every value coerced to a string,
// nested structures carried as compact JSON.
func NormalizeArguments(argumentsJSON string) map[string]string {
	var raw map[string]any
	if err := json.Unmarshal([]byte(argumentsJSON), &raw); err != nil {
		return map[string]string{"_raw": argumentsJSON}
	}

	params := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			params[k] = val
		case float64:
			// JSON numbers arrive as float64; integers print clean.
			if val == float64(int64(val)) {
				params[k] = fmt.Sprintf("%d", int64(val))
			} else {
				params[k] = fmt.Sprintf("%v", val)
			}
		case bool:
			params[k] = fmt.Sprintf("%t", val)
		case nil:
			params[k] = ""
		default:
			b, _ := json.Marshal(val)
			params[k] = string(b)
		}
	}
	return params
}
