package position

import (
	"cmp"
	"slices"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
)

// Positioned is anything that may carry a position.
type Positioned interface {
	PositionValue() optional.Optional[float64]
}

// Compare orders by position. A missing position counts as 0.
func Compare[T Positioned](a, b T) int {
	return cmp.Compare(a.PositionValue().ValueOr(0), b.PositionValue().ValueOr(0))
}

// CompareRecords orders by position, then id.
func CompareRecords(a, b Record) int {
	if c := cmp.Compare(a.Position, b.Position); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Sort orders list in place by Compare. The sort is not stable: elements
// with equal positions end up in unspecified order. Use SortFunc with a
// comparator that has a secondary key, such as CompareRecords, when that
// matters.
func Sort[T Positioned](list []T) []T {
	slices.SortFunc(list, Compare[T])
	return list
}

func SortFunc[T any](list []T, compare func(a, b T) int) []T {
	slices.SortFunc(list, compare)
	return list
}
