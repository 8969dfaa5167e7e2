package jobs

import (
	"context"
	"errors"
	"fmt"

	types "github.com/assetforge/assetforge-backend/internal/domain"
)

// Handler executes one kind of background job. Run errors are transient and
// retried with backoff unless wrapped with Permanent. Execution is
// at-least-once, so Run must be idempotent keyed by (asset, kind).
type Handler interface {
	Kind() string
	Run(ctx context.Context, job *types.Job) error
	// OnExhausted is invoked once after the job is marked dead, to record the
	// terminal outcome on the asset itself.
	OnExhausted(ctx context.Context, job *types.Job)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying; the job goes straight to
// dead and OnExhausted runs.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(h Handler) error {
	if h == nil || h.Kind() == "" {
		return fmt.Errorf("handler must have a kind")
	}
	if _, exists := r.handlers[h.Kind()]; exists {
		return fmt.Errorf("handler for kind %q already registered", h.Kind())
	}
	r.handlers[h.Kind()] = h
	return nil
}

func (r *Registry) Get(kind string) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}
