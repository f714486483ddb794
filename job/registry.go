package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Entry is the type-erased form of a registered definition.
type Entry struct {
	Kind string
	Opts Options

	// Encode turns a dispatch argument into payload bytes.
	Encode func(v any) ([]byte, error)

	// Decode validates payload bytes before any attempt is counted.
	Decode func(payload []byte) (any, error)

	// Handle invokes the handler with a value returned by Decode.
	Handle func(ctx context.Context, v any) error
}

// Registry maps kind names to entries. It is safe for concurrent use and is
// normally populated at startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a raw entry. Registering the same kind twice is an error.
func (r *Registry) Register(e *Entry) error {
	if e == nil || e.Kind == "" {
		return fmt.Errorf("job: register: empty kind")
	}
	if e.Decode == nil || e.Handle == nil {
		return fmt.Errorf("job: register %q: decode and handle are required", e.Kind)
	}
	e.Opts = e.Opts.Apply()
	if e.Encode == nil {
		e.Encode = e.Opts.Codec.Marshal
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.Kind]; ok {
		return fmt.Errorf("job: kind %q already registered", e.Kind)
	}
	r.entries[e.Kind] = e
	return nil
}

// Lookup returns the entry for kind.
func (r *Registry) Lookup(kind string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind]
	return e, ok
}

// Kinds returns the registered kind names in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RegisterDefinition registers a typed definition. A []byte payload bypasses
// the codec on encode so pre-encoded payloads can be dispatched as-is.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) error {
	if def == nil || def.Handler == nil {
		return fmt.Errorf("job: register: nil definition or handler")
	}
	opts := def.Opts.Apply()
	codec := opts.Codec
	return r.Register(&Entry{
		Kind: def.Kind,
		Opts: opts,
		Encode: func(v any) ([]byte, error) {
			if raw, ok := v.([]byte); ok {
				return raw, nil
			}
			return codec.Marshal(v)
		},
		Decode: func(payload []byte) (any, error) {
			var v T
			if err := codec.Unmarshal(payload, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		Handle: func(ctx context.Context, v any) error {
			typed, ok := v.(T)
			if !ok {
				return Permanent(fmt.Errorf("job: %s: unexpected payload type %T", def.Kind, v))
			}
			return def.Handler(ctx, typed)
		},
	})
}

// RegisterRaw registers a handler that receives the undecoded payload.
func RegisterRaw(r *Registry, kind string, handler func(ctx context.Context, payload []byte) error, opts ...Option) error {
	if handler == nil {
		return fmt.Errorf("job: register %q: nil handler", kind)
	}
	return r.Register(&Entry{
		Kind: kind,
		Opts: DefaultOptions().Apply(opts...),
		Encode: func(v any) ([]byte, error) {
			switch b := v.(type) {
			case []byte:
				return b, nil
			case string:
				return []byte(b), nil
			case nil:
				return nil, nil
			}
			return JSONCodec{}.Marshal(v)
		},
		Decode: func(payload []byte) (any, error) { return payload, nil },
		Handle: func(ctx context.Context, v any) error {
			b, _ := v.([]byte)
			return handler(ctx, b)
		},
	})
}
