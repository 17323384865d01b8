package position

import (
	"context"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
)

// FindElement returns the first record of the partition that satisfies pred
// and filter in the given order, converted through adapter. A missing
// record is None, not an error.
func FindElement[T any](ctx context.Context, store Store, adapter Adapter[T], p Partition, pred optional.Optional[PositionPredicate], order Order, filter Filter) (optional.Optional[T], error) {
	rec, err := store.QueryOne(ctx, Query{
		Partition: p,
		Position:  pred,
		Filter:    filter,
		Order:     order,
	})
	if err != nil {
		return optional.None[T](), err
	}
	return optional.MapErr(rec, adapter.FromRecord)
}

// FindNext returns the record with the smallest position greater than pos.
func FindNext[T any](ctx context.Context, store Store, adapter Adapter[T], p Partition, pos float64, filter Filter) (optional.Optional[T], error) {
	return FindElement(ctx, store, adapter, p, optional.Some(PositionGt(pos)), OrderAsc, filter)
}

// FindPrevious returns the record with the largest position less than pos.
func FindPrevious[T any](ctx context.Context, store Store, adapter Adapter[T], p Partition, pos float64, filter Filter) (optional.Optional[T], error) {
	return FindElement(ctx, store, adapter, p, optional.Some(PositionLt(pos)), OrderDesc, filter)
}

func FindFirst[T any](ctx context.Context, store Store, adapter Adapter[T], p Partition, filter Filter) (optional.Optional[T], error) {
	return FindElement(ctx, store, adapter, p, optional.None[PositionPredicate](), OrderAsc, filter)
}

func FindLast[T any](ctx context.Context, store Store, adapter Adapter[T], p Partition, filter Filter) (optional.Optional[T], error) {
	return FindElement(ctx, store, adapter, p, optional.None[PositionPredicate](), OrderDesc, filter)
}
