package tenant

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/strata/internal/vectorstore"
)

// RegistryConfig declares the shape every tenant collection is created with.
type RegistryConfig struct {
	Dimension    int
	Distance     vectorstore.Distance
	EnableSparse bool

	// Scalars are the filterable payload fields. Workspace and agent fields
	// are always included; listing them again is harmless.
	Scalars []vectorstore.ScalarField
}

// Registry resolves (scope, kind) to a bound collection handle, lazily
// ensuring collections through the binder. Binding is single-winner: many
// concurrent callers for the same collection produce one create.
type Registry struct {
	binder *vectorstore.Binder
	cfg    RegistryConfig
}

// NewRegistry creates a registry over a binder.
func NewRegistry(binder *vectorstore.Binder, cfg RegistryConfig) (*Registry, error) {
	if binder == nil {
		return nil, fmt.Errorf("binder required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive")
	}
	return &Registry{binder: binder, cfg: cfg}, nil
}

// Collection returns the bound handle for a scope and record kind, creating
// the collection on first use.
func (r *Registry) Collection(ctx context.Context, scope Scope, kind string) (vectorstore.Handle, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	name, err := CollectionName(scope.Workspace, kind)
	if err != nil {
		return nil, err
	}
	return r.binder.Bind(ctx, vectorstore.CollectionSchema{
		Name:    name,
		Scalars: r.scalars(),
		Vector: vectorstore.VectorSpec{
			Dimension:    r.cfg.Dimension,
			Distance:     r.cfg.Distance,
			EnableSparse: r.cfg.EnableSparse,
		},
	})
}

// Evict drops the cached binding for a scope and kind, forcing a re-ensure
// on next use.
func (r *Registry) Evict(scope Scope, kind string) {
	name, err := CollectionName(scope.Workspace, kind)
	if err != nil {
		return
	}
	r.binder.Evict(name)
}

func (r *Registry) scalars() []vectorstore.ScalarField {
	fields := []vectorstore.ScalarField{
		{Name: FieldWorkspace, Type: vectorstore.FieldKeyword, Indexed: true},
		{Name: FieldAgent, Type: vectorstore.FieldKeyword, Indexed: true},
	}
	for _, f := range r.cfg.Scalars {
		if IsReservedField(f.Name) {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}
