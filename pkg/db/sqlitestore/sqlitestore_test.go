package sqlitestore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/db/dbtest"
	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/db/sqlitestore"
	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/position"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func list(id string) position.Partition {
	return position.NewPartition(position.Eq("list_id", id))
}

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	store, db, err := dbtest.GetTestStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store
}

func insert(t *testing.T, s *sqlitestore.Store, listID string, pos float64) position.Record {
	t.Helper()
	r, err := s.Insert(context.Background(), pos, map[string]any{"list_id": listID})
	require.NoError(t, err)
	return r
}

func ids(t *testing.T, s *sqlitestore.Store, p position.Partition) []string {
	t.Helper()
	var out []string
	for r, err := range s.QueryAll(context.Background(), position.Query{Partition: p, Order: position.OrderAsc}) {
		require.NoError(t, err)
		out = append(out, r.ID)
	}
	return out
}

func TestInsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	a := insert(t, s, "L1", 10)
	b := insert(t, s, "L1", 20)
	c := insert(t, s, "L1", 30)
	insert(t, s, "L2", 20)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "L1", a.Fields["list_id"])
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, ids(t, s, list("L1")))

	at, err := s.QueryOne(ctx, position.Query{Partition: list("L1"), Position: optional.Some(position.PositionEq(20))})
	require.NoError(t, err)
	assert.Equal(t, b.ID, at.ValueOr(position.Record{}).ID)

	miss, err := s.QueryOne(ctx, position.Query{Partition: list("L1"), Position: optional.Some(position.PositionEq(25))})
	require.NoError(t, err)
	assert.False(t, miss.HasValue())
}

func TestNeighbors(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	p := list("L1")

	a := insert(t, s, "L1", 10)
	b := insert(t, s, "L1", 20)
	c := insert(t, s, "L1", 30)

	next, err := position.FindNext(ctx, s, position.RecordAdapter, p, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, b.ID, next.ValueOr(position.Record{}).ID)

	prev, err := position.FindPrevious(ctx, s, position.RecordAdapter, p, 30, nil)
	require.NoError(t, err)
	assert.Equal(t, b.ID, prev.ValueOr(position.Record{}).ID)

	first, err := position.FindFirst(ctx, s, position.RecordAdapter, p, nil)
	require.NoError(t, err)
	assert.Equal(t, a.ID, first.ValueOr(position.Record{}).ID)

	last, err := position.FindLast(ctx, s, position.RecordAdapter, p, nil)
	require.NoError(t, err)
	assert.Equal(t, c.ID, last.ValueOr(position.Record{}).ID)

	filtered, err := position.FindNext(ctx, s, position.RecordAdapter, p, 10,
		position.Filter{position.Ne(position.FieldID, b.ID)})
	require.NoError(t, err)
	assert.Equal(t, c.ID, filtered.ValueOr(position.Record{}).ID)

	empty, err := position.FindFirst(ctx, s, position.RecordAdapter, list("L9"), nil)
	require.NoError(t, err)
	assert.False(t, empty.HasValue())
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := insert(t, s, "L1", 10)

	r, err := s.UpdateByID(ctx, a.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, 42.0, r.Position)
	assert.Equal(t, "L1", r.Fields["list_id"])

	_, err = s.UpdateByID(ctx, "missing", 1)
	require.ErrorIs(t, err, position.ErrRecordNotFound)

	require.NoError(t, s.Delete(ctx, a.ID))
	require.ErrorIs(t, s.Delete(ctx, a.ID), position.ErrRecordNotFound)
}

func TestUnknownField(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	_, err := s.Insert(ctx, 1, map[string]any{"owner": "u"})
	require.ErrorIs(t, err, position.ErrUnknownField)

	_, err = s.QueryOne(ctx, position.Query{Partition: position.NewPartition(position.Eq("owner", "u"))})
	require.ErrorIs(t, err, position.ErrUnknownField)

	for _, err := range s.QueryAll(ctx, position.Query{Filter: position.Filter{position.Eq("owner", "u")}}) {
		require.ErrorIs(t, err, position.ErrUnknownField)
	}
}

func TestNewValidatesIdentifiers(t *testing.T) {
	_, db, err := dbtest.GetTestStore(context.Background())
	require.NoError(t, err)
	defer db.Close()

	cfg := sqlitestore.DefaultConfig()
	cfg.Table = "items; DROP TABLE ordered_items"
	_, err = sqlitestore.New(db, cfg)
	require.Error(t, err)

	cfg = sqlitestore.DefaultConfig()
	cfg.Fields = map[string]string{position.FieldPosition: "position"}
	_, err = sqlitestore.New(db, cfg)
	require.Error(t, err)

	_, err = sqlitestore.New(nil, sqlitestore.DefaultConfig())
	require.Error(t, err)
}

func TestInTx(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := insert(t, s, "L1", 10)
	errAbort := errors.New("abort")

	err := s.InTx(ctx, func(tx position.Store) error {
		if _, err := tx.UpdateByID(ctx, a.ID, 99); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	r, err := s.QueryOne(ctx, position.Query{Filter: position.Filter{position.Eq(position.FieldID, a.ID)}})
	require.NoError(t, err)
	assert.Equal(t, 10.0, r.ValueOr(position.Record{}).Position)

	err = s.InTx(ctx, func(tx position.Store) error {
		// nested transactions join the outer one
		return tx.(position.Transactor).InTx(ctx, func(inner position.Store) error {
			_, err := inner.UpdateByID(ctx, a.ID, 77)
			return err
		})
	})
	require.NoError(t, err)
	r, err = s.QueryOne(ctx, position.Query{Filter: position.Filter{position.Eq(position.FieldID, a.ID)}})
	require.NoError(t, err)
	assert.Equal(t, 77.0, r.ValueOr(position.Record{}).Position)
}

func TestServiceOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	p := list("L1")

	a := insert(t, s, "L1", 8)
	b := insert(t, s, "L1", 16)
	movers := make([]position.Record, 4)
	for i := range movers {
		movers[i] = insert(t, s, "L1", float64(1000+i))
	}

	svc, err := position.NewService(s, position.Config{Attempts: 10, Threshold: 1, Spacing: 8}, nil)
	require.NoError(t, err)

	for _, m := range movers {
		_, err := svc.InsertBefore(ctx, p, m.ID, b.ID)
		require.NoError(t, err)
	}

	want := []string{a.ID, movers[0].ID, movers[1].ID, movers[2].ID, movers[3].ID, b.ID}
	assert.Equal(t, want, ids(t, s, p))

	var positions []float64
	for r, err := range s.QueryAll(ctx, position.Query{Partition: p, Order: position.OrderAsc}) {
		require.NoError(t, err)
		positions = append(positions, r.Position)
	}
	assert.Equal(t, []float64{8, 16, 24, 32, 40, 48}, positions, "packed neighbors were reformed")

	// a collision on a taken slot resolves below it
	got, err := svc.Place(ctx, p, a.ID, 48)
	require.NoError(t, err)
	assert.Equal(t, 44.0, got.Position)
}
