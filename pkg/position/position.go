// Package position assigns stable, sortable positions to records of an
// ordered collection kept in external storage.
//
// Inserting or moving a record touches a single row: the Resolver finds a
// free position between two neighbors, and the Reformer renumbers a whole
// partition only when neighbors have been split so often that the gap
// between them fell below the configured threshold.
//
// The package never talks to a database directly. Callers supply a Store
// that translates typed queries into its native form; see the memstore and
// sqlitestore packages for bindings.
package position

import (
	"context"
	"iter"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
)

// Reserved field names. Every Store must accept them in conditions.
const (
	FieldID       = "id"
	FieldPosition = "position"
)

// Record is the storage shape the core reads. Fields holds the extra
// columns a store exposes for partition filters (e.g. list_id).
type Record struct {
	ID       string         `json:"id"`
	Position float64        `json:"position"`
	Fields   map[string]any `json:"fields,omitempty"`
}

func (r Record) PositionValue() optional.Optional[float64] {
	return optional.Some(r.Position)
}

// Field looks up a filterable value, including the reserved id and position.
func (r Record) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return r.ID, true
	case FieldPosition:
		return r.Position, true
	}
	v, ok := r.Fields[name]
	return v, ok
}

// Store is the minimal storage capability the core depends on.
type Store interface {
	// QueryOne returns the first record matching q in q.Order, or None.
	QueryOne(ctx context.Context, q Query) (optional.Optional[Record], error)
	// QueryAll streams every record matching q. The sequence is one-shot.
	QueryAll(ctx context.Context, q Query) iter.Seq2[Record, error]
	// UpdateByID sets the position of one record and returns it as stored.
	// Unknown ids yield ErrRecordNotFound.
	UpdateByID(ctx context.Context, id string, position float64) (Record, error)
}

// Transactor is implemented by stores that can run a set of operations
// atomically. The Store handed to fn is bound to the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// Adapter converts a storage record into the caller's domain type.
type Adapter[T any] interface {
	FromRecord(Record) (T, error)
}

type AdapterFunc[T any] func(Record) (T, error)

func (f AdapterFunc[T]) FromRecord(r Record) (T, error) {
	return f(r)
}

// RecordAdapter returns records unchanged.
var RecordAdapter Adapter[Record] = AdapterFunc[Record](func(r Record) (Record, error) {
	return r, nil
})
