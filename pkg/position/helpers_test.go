package position_test

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/position"
	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/position/memstore"

	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected store failure")

// countingStore wraps a store, counts calls and can fail the nth update.
// It does not implement position.Transactor.
type countingStore struct {
	inner position.Store

	mu        sync.Mutex
	probes    int
	queryOne  int
	queryAll  int
	updates   int
	failAfter int // fail the update after this many succeeded, -1 never
}

func newCountingStore(inner position.Store) *countingStore {
	return &countingStore{inner: inner, failAfter: -1}
}

func (c *countingStore) QueryOne(ctx context.Context, q position.Query) (optional.Optional[position.Record], error) {
	c.mu.Lock()
	c.queryOne++
	if pred, ok := q.Position.Get(); ok && pred.Op == position.OpEq {
		c.probes++
	}
	c.mu.Unlock()
	return c.inner.QueryOne(ctx, q)
}

func (c *countingStore) QueryAll(ctx context.Context, q position.Query) iter.Seq2[position.Record, error] {
	c.mu.Lock()
	c.queryAll++
	c.mu.Unlock()
	return c.inner.QueryAll(ctx, q)
}

func (c *countingStore) UpdateByID(ctx context.Context, id string, pos float64) (position.Record, error) {
	c.mu.Lock()
	if c.failAfter >= 0 && c.updates >= c.failAfter {
		c.failAfter = -1
		c.mu.Unlock()
		return position.Record{}, errInjected
	}
	c.updates++
	c.mu.Unlock()
	return c.inner.UpdateByID(ctx, id, pos)
}

// txStore exposes memstore transactions with a failure injected into the
// transaction-bound store.
type txStore struct {
	*countingStore
	mem *memstore.Store
}

func (t *txStore) InTx(ctx context.Context, fn func(position.Store) error) error {
	return t.mem.InTx(ctx, func(s position.Store) error {
		inner := newCountingStore(s)
		inner.failAfter = t.failAfter
		return fn(inner)
	})
}

// failingStore fails every call.
type failingStore struct{}

func (failingStore) QueryOne(context.Context, position.Query) (optional.Optional[position.Record], error) {
	return optional.None[position.Record](), errInjected
}

func (failingStore) QueryAll(context.Context, position.Query) iter.Seq2[position.Record, error] {
	return func(yield func(position.Record, error) bool) {
		yield(position.Record{}, errInjected)
	}
}

func (failingStore) UpdateByID(context.Context, string, float64) (position.Record, error) {
	return position.Record{}, errInjected
}

const listField = "list_id"

func listPartition(id string) position.Partition {
	return position.NewPartition(position.Eq(listField, id))
}

func rec(id, list string, pos float64) position.Record {
	return position.Record{ID: id, Position: pos, Fields: map[string]any{listField: list}}
}

// seedList fills a memstore with one record per position in list L1,
// named a, b, c, ...
func seedList(t *testing.T, positions ...float64) *memstore.Store {
	t.Helper()
	store := memstore.New()
	for i, p := range positions {
		require.NoError(t, store.Insert(rec(string(rune('a'+i)), "L1", p)))
	}
	return store
}

func positionsOf(t *testing.T, store *memstore.Store, list string) []float64 {
	t.Helper()
	var out []float64
	for _, r := range store.Records() {
		if r.Fields[listField] == list {
			out = append(out, r.Position)
		}
	}
	return out
}

func idsOf(t *testing.T, store *memstore.Store, list string) []string {
	t.Helper()
	var out []string
	for _, r := range store.Records() {
		if r.Fields[listField] == list {
			out = append(out, r.ID)
		}
	}
	return out
}
