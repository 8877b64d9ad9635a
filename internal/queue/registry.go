package queue

import (
	"context"
	"fmt"
	"sort"

	"github.com/yungbote/mnemosyne-backend/internal/apperr"
)

// HandlerFunc executes one job. The context carries the per-job timeout;
// a non-nil error marks the job failed.
type HandlerFunc func(ctx context.Context, args map[string]any) error

// Registry maps job function names to handlers. It is populated during
// wiring and read-only afterwards, so no locking.
type Registry struct {
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

func (r *Registry) Register(function string, handler HandlerFunc) error {
	if function == "" {
		return apperr.Validation("registry_register", "function name is required")
	}
	if handler == nil {
		return apperr.Validation("registry_register", fmt.Sprintf("handler for %q is nil", function))
	}
	if _, exists := r.handlers[function]; exists {
		return apperr.Validation("registry_register", fmt.Sprintf("function %q already registered", function))
	}
	r.handlers[function] = handler
	return nil
}

func (r *Registry) Resolve(function string) (HandlerFunc, bool) {
	h, ok := r.handlers[function]
	return h, ok
}

func (r *Registry) Functions() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
