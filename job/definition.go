package job

import "context"

// HandlerFunc is the typed handler signature for a job.
type HandlerFunc[T any] func(ctx context.Context, payload T) error

// Definition pairs a kind name with a typed handler and its defaults.
type Definition[T any] struct {
	Kind    string
	Handler HandlerFunc[T]
	Opts    Options
}

// NewDefinition creates a typed job definition. Options start from
// [DefaultOptions].
func NewDefinition[T any](kind string, handler HandlerFunc[T], opts ...Option) *Definition[T] {
	return &Definition[T]{
		Kind:    kind,
		Handler: handler,
		Opts:    DefaultOptions().Apply(opts...),
	}
}
