// Package memstore is an in-memory position.Store. Records are kept in a
// B-tree ordered by (position, id) so neighbor lookups walk only the part
// of the tree they need.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"math"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/btree"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/position"
)

const degree = 16

var ErrDuplicateID = errors.New("record id already exists")

type Store struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[position.Record]
	byID map[string]position.Record
}

var (
	_ position.Store      = (*Store)(nil)
	_ position.Transactor = (*Store)(nil)
)

func less(a, b position.Record) bool {
	return position.CompareRecords(a, b) < 0
}

func New() *Store {
	return &Store{
		tree: btree.NewG(degree, less),
		byID: make(map[string]position.Record),
	}
}

// Insert adds records. It fails without changes if any id is taken.
func (s *Store) Insert(records ...position.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, ok := s.byID[r.ID]; ok {
			return fmt.Errorf("insert %s: %w", r.ID, ErrDuplicateID)
		}
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("insert %s: %w", r.ID, ErrDuplicateID)
		}
		seen[r.ID] = struct{}{}
	}
	for _, r := range records {
		s.put(r)
	}
	return nil
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return false
	}
	s.tree.Delete(r)
	delete(s.byID, id)
	return true
}

func (s *Store) Get(id string) (position.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	return r, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Records returns every record ordered by position, then id.
func (s *Store) Records() []position.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]position.Record, 0, s.tree.Len())
	s.tree.Ascend(func(r position.Record) bool {
		out = append(out, r)
		return true
	})
	return out
}

func (s *Store) QueryOne(ctx context.Context, q position.Query) (optional.Optional[position.Record], error) {
	if err := ctx.Err(); err != nil {
		return optional.None[position.Record](), err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found optional.Optional[position.Record]
	s.walk(q, func(r position.Record) bool {
		found = optional.Some(r)
		return false
	})
	return found, nil
}

// QueryAll snapshots the matching records when the sequence is ranged over,
// so the consumer may write to the store while iterating.
func (s *Store) QueryAll(ctx context.Context, q position.Query) iter.Seq2[position.Record, error] {
	return func(yield func(position.Record, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(position.Record{}, err)
			return
		}
		s.mu.RLock()
		var matched []position.Record
		s.walk(q, func(r position.Record) bool {
			matched = append(matched, r)
			return true
		})
		s.mu.RUnlock()

		for _, r := range matched {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (s *Store) UpdateByID(ctx context.Context, id string, pos float64) (position.Record, error) {
	if err := ctx.Err(); err != nil {
		return position.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(id, pos)
}

// InTx runs fn against a copy-on-write clone of the store and swaps the
// clone in when fn succeeds. Other callers block until the transaction ends.
func (s *Store) InTx(ctx context.Context, fn func(position.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{tree: s.tree.Clone(), byID: maps.Clone(s.byID)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.tree = tx.tree
	s.byID = tx.byID
	return nil
}

// Snapshot encodes every record as JSON.
func (s *Store) Snapshot() ([]byte, error) {
	return json.Marshal(s.Records())
}

// Restore replaces the store's content with a Snapshot.
func (s *Store) Restore(data []byte) error {
	var records []position.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	fresh := New()
	if err := fresh.Insert(records...); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = fresh.tree
	s.byID = fresh.byID
	return nil
}

func (s *Store) put(r position.Record) {
	if old, ok := s.byID[r.ID]; ok {
		s.tree.Delete(old)
	}
	s.byID[r.ID] = r
	s.tree.ReplaceOrInsert(r)
}

func (s *Store) update(id string, pos float64) (position.Record, error) {
	r, ok := s.byID[id]
	if !ok {
		return position.Record{}, fmt.Errorf("update %s: %w", id, position.ErrRecordNotFound)
	}
	r.Position = pos
	s.put(r)
	return r, nil
}

// walk visits records matching q in q.Order. Position predicates pick a
// starting pivot so lookups next to a position skip the rest of the tree.
func (s *Store) walk(q position.Query, fn func(position.Record) bool) {
	pred, hasPred := q.Position.Get()
	visit := func(r position.Record) bool {
		if hasPred && pastBound(pred, q.Order, r.Position) {
			return false
		}
		if !q.Matches(r) {
			return true
		}
		return fn(r)
	}

	if q.Order == position.OrderDesc {
		// the empty id sorts first, so {Position: v} is below every record at
		// v; a record sitting on the pivot itself is rejected by q.Matches
		switch {
		case hasPred && pred.Op == position.OpLt:
			s.tree.DescendLessOrEqual(position.Record{Position: pred.Value}, visit)
		case hasPred && (pred.Op == position.OpLte || pred.Op == position.OpEq) && !math.IsInf(pred.Value, 1):
			s.tree.DescendLessOrEqual(position.Record{Position: math.Nextafter(pred.Value, math.Inf(1))}, visit)
		default:
			s.tree.Descend(visit)
		}
		return
	}
	if hasPred && (pred.Op == position.OpGt || pred.Op == position.OpGte || pred.Op == position.OpEq) {
		s.tree.AscendGreaterOrEqual(position.Record{Position: pred.Value}, visit)
		return
	}
	s.tree.Ascend(visit)
}

// pastBound reports whether pos, and everything after it in walk order,
// lies outside pred.
func pastBound(pred position.PositionPredicate, order position.Order, pos float64) bool {
	if order == position.OrderDesc {
		switch pred.Op {
		case position.OpGt:
			return pos <= pred.Value
		case position.OpGte, position.OpEq:
			return pos < pred.Value
		}
		return false
	}
	switch pred.Op {
	case position.OpLt:
		return pos >= pred.Value
	case position.OpLte, position.OpEq:
		return pos > pred.Value
	}
	return false
}
