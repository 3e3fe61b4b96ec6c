package tenant

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/vectorstore"
)

func newTestRegistry(t *testing.T) (*Registry, *vectorstore.MemoryAdapter) {
	t.Helper()
	adapter := vectorstore.NewMemoryAdapter(zap.NewNop())
	reg, err := NewRegistry(vectorstore.NewBinder(adapter), RegistryConfig{
		Dimension: 4,
		Scalars: []vectorstore.ScalarField{
			{Name: "kind", Type: vectorstore.FieldKeyword, Indexed: true},
		},
	})
	require.NoError(t, err)
	return reg, adapter
}

func TestCollectionBindsOnce(t *testing.T) {
	reg, adapter := newTestRegistry(t)
	scope := Scope{Workspace: "acme", Agent: "planner"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := reg.Collection(context.Background(), scope, "resource")
			assert.NoError(t, err)
			assert.Equal(t, "acme_resource", h.Name())
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), adapter.CreateCalls(), "concurrent binds must create once")
}

func TestCollectionPerKind(t *testing.T) {
	reg, adapter := newTestRegistry(t)
	scope := Scope{Workspace: "acme", Agent: "planner"}

	for _, kind := range []string{"resource", "memory", "skill"} {
		_, err := reg.Collection(context.Background(), scope, kind)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), adapter.CreateCalls())

	// Rebinding an existing kind does not create again.
	_, err := reg.Collection(context.Background(), scope, "resource")
	require.NoError(t, err)
	assert.Equal(t, int64(3), adapter.CreateCalls())
}

func TestCollectionRejectsInvalidScope(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Collection(context.Background(), Scope{Workspace: "no spaces here"}, "resource")
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestEvictForcesReEnsure(t *testing.T) {
	reg, adapter := newTestRegistry(t)
	scope := Scope{Workspace: "acme", Agent: SharedAgent}

	_, err := reg.Collection(context.Background(), scope, "resource")
	require.NoError(t, err)
	reg.Evict(scope, "resource")

	_, err = reg.Collection(context.Background(), scope, "resource")
	require.NoError(t, err)
	// Ensure ran twice but the second was idempotent on the backend side.
	assert.Equal(t, int64(1), adapter.CreateCalls())
}
