package agent

import "context"

// ModelRouter picks a concrete model for each request based on its class
// before delegating to the wrapped generator. Requests that already name a
// model pass through untouched, so a caller can still pin one per request.
type ModelRouter struct {
	inner    Generator
	models   map[ModelClass]string
	fallback string
}

// NewModelRouter wraps inner with per-class model selection. Classes missing
// from models (and requests with no class) resolve to defaultModel. Empty
// map entries are ignored rather than routing a request to the empty string.
func NewModelRouter(inner Generator, defaultModel string, models map[ModelClass]string) *ModelRouter {
	routed := make(map[ModelClass]string, len(models))
	for class, model := range models {
		if model != "" {
			routed[class] = model
		}
	}
	return &ModelRouter{inner: inner, models: routed, fallback: defaultModel}
}

func (r *ModelRouter) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Model == "" {
		req.Model = r.modelFor(req.Class)
	}
	return r.inner.Generate(ctx, req)
}

func (r *ModelRouter) modelFor(class ModelClass) string {
	if model, ok := r.models[class]; ok {
		return model
	}
	if model, ok := r.models[ClassDefault]; ok {
		return model
	}
	return r.fallback
}
