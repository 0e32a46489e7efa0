package items

import (
	"fmt"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/reconcile/pkg/engine"
)

// Spec describes one item of a flow as written in configuration.
type Spec struct {
	ID     engine.ItemID  `json:"id" yaml:"id"`
	Kind   string         `json:"kind" yaml:"kind"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Env is what factories may use to build items.
type Env struct {
	// Fs is the filesystem file items act on.
	Fs afero.Fs

	// BaseDir resolves relative paths.
	BaseDir string
}

// Factory builds an item from its spec.
type Factory func(spec Spec, env Env) (engine.Item, error)

// Registry maps item kinds to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(KindFile, NewFileItemFromSpec)
	_ = r.Register(KindCounter, NewCounterItemFromSpec)
	return r
}

// Register adds a kind. Registering a kind twice is an error.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" || factory == nil {
		return fmt.Errorf("kind and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("item kind already registered: %s", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// New builds an item from spec.
func (r *Registry) New(spec Spec, env Env) (engine.Item, error) {
	if _, err := engine.NewItemID(string(spec.ID)); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, engine.NewPermanentError(fmt.Sprintf("unknown item kind %q", spec.Kind), nil).
			WithCode(engine.ErrCodeValidation).WithItem(spec.ID)
	}
	if env.Fs == nil {
		env.Fs = afero.NewOsFs()
	}
	return factory(spec, env)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeParams decodes a spec's params into out and validates it.
func DecodeParams(spec Spec, out any) error {
	var node yaml.Node
	if err := node.Encode(spec.Params); err != nil {
		return paramsError(spec, err)
	}
	if err := node.Decode(out); err != nil {
		return paramsError(spec, err)
	}
	if err := validate.Struct(out); err != nil {
		return paramsError(spec, err)
	}
	return nil
}

func paramsError(spec Spec, err error) error {
	return engine.NewPermanentError(fmt.Sprintf("invalid params for %s item", spec.Kind), err).
		WithCode(engine.ErrCodeValidation).WithItem(spec.ID)
}
