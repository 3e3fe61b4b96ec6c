package vectorstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/filter"
)

func testSchema(name string, sparse bool) CollectionSchema {
	return CollectionSchema{
		Name: name,
		Scalars: []ScalarField{
			{Name: "kind", Type: FieldKeyword, Indexed: true},
			{Name: "layer", Type: FieldKeyword, Indexed: true},
			{Name: "rank", Type: FieldInteger, Indexed: true},
		},
		Vector: VectorSpec{Dimension: 3, Distance: DistanceCosine, EnableSparse: sparse},
	}
}

func seedRecords(t *testing.T, h Handle, n int) {
	t.Helper()
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, Record{
			ID:      fmt.Sprintf("rec-%02d", i),
			Content: fmt.Sprintf("content %d", i),
			Dense:   []float32{float32(i), 1, 0},
			Fields: map[string]any{
				"kind":  []string{"resource", "memory"}[i%2],
				"layer": []string{"l0", "l1"}[i%2],
				"rank":  i,
			},
			CreatedAt: time.Unix(int64(1700000000+i), 0),
		})
	}
	res, err := h.Upsert(context.Background(), records)
	require.NoError(t, err)
	require.Empty(t, res.Failed)
}

func TestMemoryEnsureCollectionIdempotent(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	ctx := context.Background()

	h1, err := a.EnsureCollection(ctx, testSchema("ws_acme_resource", false))
	require.NoError(t, err)
	h2, err := a.EnsureCollection(ctx, testSchema("ws_acme_resource", false))
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, int64(1), a.CreateCalls())
}

func TestMemoryEnsureCollectionRejectsBadSchema(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	ctx := context.Background()

	_, err := a.EnsureCollection(ctx, CollectionSchema{Name: "bad name!", Vector: VectorSpec{Dimension: 3}})
	require.ErrorIs(t, err, ErrInvalidCollectionName)

	_, err = a.EnsureCollection(ctx, CollectionSchema{Name: "ws_ok", Vector: VectorSpec{Dimension: 0}})
	require.Error(t, err)
}

func TestMemoryUpsertDimensionGuard(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_dim", false))
	require.NoError(t, err)

	res, err := h.Upsert(context.Background(), []Record{
		{ID: "good", Dense: []float32{1, 0, 0}},
		{ID: "bad", Dense: []float32{1, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad", res.Failed[0].ID)
	assert.ErrorIs(t, res.Failed[0].Err, ErrDimensionMismatch)
}

func TestMemoryUpsertRejectsSparseOnDenseOnly(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_dense", false))
	require.NoError(t, err)

	res, err := h.Upsert(context.Background(), []Record{
		{ID: "r", Dense: []float32{1, 0, 0}, Sparse: SparseVector{"term": 1}},
	})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, ErrInvalidRecord)
}

func TestMemoryQueryDimensionGuard(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_qdim", false))
	require.NoError(t, err)

	_, err = h.Query(context.Background(), QuerySpec{Kind: KindDense, Dense: []float32{1, 0}})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

// Count and Query must agree on cardinality: both run the one compiled
// predicate, so for any filter the hit count equals the count.
func TestMemoryCountMatchesQueryCardinality(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_card", false))
	require.NoError(t, err)
	seedRecords(t, h, 10)

	filters := []filter.Expr{
		nil,
		filter.Eq("kind", "resource"),
		filter.In("layer", "l0", "l1"),
		filter.Range("rank", filter.Bounds{GTE: 3, LT: 8}),
		filter.And(filter.Eq("kind", "memory"), filter.Range("rank", filter.Bounds{GT: 2})),
		filter.Or(filter.Eq("rank", 0), filter.Eq("rank", 9)),
		filter.Not(filter.Eq("kind", "resource")),
		filter.Contains("kind", "sour"),
	}
	for i, f := range filters {
		count, err := h.Count(context.Background(), f)
		require.NoError(t, err, "filter %d", i)

		hits, err := h.Query(context.Background(), QuerySpec{
			Kind:  KindDense,
			Dense: []float32{1, 1, 0},
			// TopK above the record count so nothing is truncated.
			TopK:   100,
			Filter: f,
		})
		require.NoError(t, err, "filter %d", i)
		assert.Equal(t, count, int64(len(hits)), "filter %d", i)
	}
}

// An empty disjunction is false, not absent: it must select no records on
// every read path rather than widening to match-all.
func TestMemoryEmptyOrMatchesNothing(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_none", false))
	require.NoError(t, err)
	seedRecords(t, h, 2)

	count, err := h.Count(context.Background(), filter.Or())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	hits, err := h.Query(context.Background(), QuerySpec{
		Kind:   KindDense,
		Dense:  []float32{1, 1, 0},
		TopK:   10,
		Filter: filter.Or(),
	})
	require.NoError(t, err)
	assert.Empty(t, hits)

	// And() stays match-all, so the two empty combinators differ.
	count, err = h.Count(context.Background(), filter.And())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

// Identical corpus and query always produce the identical ordering: score
// descending, tied scores broken by recency, then id.
func TestMemoryQueryOrderingDeterministic(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_order", false))
	require.NoError(t, err)

	same := []float32{0, 1, 0}
	ts := time.Unix(1700000000, 0)
	_, err = h.Upsert(context.Background(), []Record{
		{ID: "b", Dense: same, CreatedAt: ts},
		{ID: "a", Dense: same, CreatedAt: ts},
		{ID: "newer", Dense: same, CreatedAt: ts.Add(time.Hour)},
		{ID: "far", Dense: []float32{1, 0, 0}, CreatedAt: ts},
	})
	require.NoError(t, err)

	var first []string
	for run := 0; run < 5; run++ {
		hits, err := h.Query(context.Background(), QuerySpec{Kind: KindDense, Dense: same, TopK: 10})
		require.NoError(t, err)
		ids := make([]string, len(hits))
		for i, hit := range hits {
			ids[i] = hit.ID
		}
		if run == 0 {
			first = ids
			assert.Equal(t, []string{"newer", "a", "b", "far"}, ids)
		} else {
			assert.Equal(t, first, ids)
		}
	}
}

func TestMemorySparseQuery(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_sparse", true))
	require.NoError(t, err)

	_, err = h.Upsert(context.Background(), []Record{
		{ID: "hit", Dense: []float32{1, 0, 0}, Sparse: SparseVector{"redis": 0.8, "cache": 0.5}},
		{ID: "miss", Dense: []float32{0, 1, 0}, Sparse: SparseVector{"postgres": 0.9}},
	})
	require.NoError(t, err)

	hits, err := h.Query(context.Background(), QuerySpec{
		Kind:   KindSparse,
		Sparse: SparseVector{"redis": 1},
		TopK:   10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "hit", hits[0].ID)
}

func TestMemorySparseQueryOnDenseOnlyFails(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_nosparse", false))
	require.NoError(t, err)

	_, err = h.Query(context.Background(), QuerySpec{Kind: KindSparse, Sparse: SparseVector{"x": 1}})
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestMemoryDeleteByIDsAndFilter(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_del", false))
	require.NoError(t, err)
	seedRecords(t, h, 6)

	res, err := h.Delete(context.Background(), DeleteSpec{IDs: []string{"rec-00", "rec-01"}})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 2)

	res, err = h.Delete(context.Background(), DeleteSpec{Filter: filter.Eq("kind", "memory")})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 2) // rec-03 and rec-05 remained

	count, err := h.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemoryGetClonesRecord(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_get", false))
	require.NoError(t, err)
	seedRecords(t, h, 1)

	rec, err := h.Get(context.Background(), "rec-00")
	require.NoError(t, err)
	rec.Fields["kind"] = "mutated"
	rec.Dense[0] = 99

	again, err := h.Get(context.Background(), "rec-00")
	require.NoError(t, err)
	assert.Equal(t, "resource", again.Fields["kind"])
	assert.Equal(t, float32(0), again.Dense[0])

	_, err = h.Get(context.Background(), "absent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryAggregateGroups(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_agg", false))
	require.NoError(t, err)
	seedRecords(t, h, 6)

	res, err := h.Aggregate(context.Background(), nil, AggregateSpec{GroupBy: "kind"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Total)
	assert.Equal(t, int64(3), res.Groups["resource"])
	assert.Equal(t, int64(3), res.Groups["memory"])
}

func TestMemoryUpsertAbandonsOnCancel(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	h, err := a.EnsureCollection(context.Background(), testSchema("ws_cancel", false))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.Upsert(ctx, []Record{{ID: "r", Dense: []float32{1, 0, 0}}})
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, context.Canceled)
}

func TestMemoryDropCollection(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	ctx := context.Background()
	h, err := a.EnsureCollection(ctx, testSchema("ws_drop", false))
	require.NoError(t, err)
	seedRecords(t, h, 3)

	require.NoError(t, a.DropCollection(ctx, "ws_drop"))
	// Dropping again is a no-op.
	require.NoError(t, a.DropCollection(ctx, "ws_drop"))

	// Re-ensuring creates a fresh, empty collection.
	h2, err := a.EnsureCollection(ctx, testSchema("ws_drop", false))
	require.NoError(t, err)
	count, err := h2.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, int64(2), a.CreateCalls())
}

func TestMemoryClosedAdapter(t *testing.T) {
	a := NewMemoryAdapter(zap.NewNop())
	require.NoError(t, a.Close())

	_, err := a.EnsureCollection(context.Background(), testSchema("ws_closed", false))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, a.DropCollection(context.Background(), "ws_closed"), ErrClosed)
}
