package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
)

// Service places records under a per-partition lock: resolve a free
// position, apply it, then reform the partition when the new neighbors are
// packed too tightly.
type Service struct {
	store    Store
	cfg      Config
	resolver *Resolver
	reformer *Reformer
	locker   *Locker
	logger   *slog.Logger
}

func NewService(store Store, cfg Config, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("position: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		store:    store,
		cfg:      cfg,
		resolver: NewResolver(store, cfg, logger),
		reformer: NewReformer(store, cfg, logger),
		locker:   NewLocker(),
		logger:   logger,
	}, nil
}

func (s *Service) Resolver() *Resolver { return s.resolver }
func (s *Service) Reformer() *Reformer { return s.reformer }

// desiredFunc computes a desired position from the partition without the
// record being placed.
type desiredFunc func(ctx context.Context, others Partition) (float64, error)

// Place moves record id to desired, or as close below it as a free slot
// allows.
func (s *Service) Place(ctx context.Context, p Partition, id string, desired float64, opts ...ReformOption) (Record, error) {
	return s.place(ctx, p, id, func(context.Context, Partition) (float64, error) {
		return desired, nil
	}, opts)
}

// InsertBefore places id between targetID and its predecessor.
func (s *Service) InsertBefore(ctx context.Context, p Partition, id, targetID string, opts ...ReformOption) (Record, error) {
	return s.place(ctx, p, id, func(ctx context.Context, others Partition) (float64, error) {
		target, err := s.positionOf(ctx, others, targetID)
		if err != nil {
			return 0, err
		}
		prev, err := FindPrevious(ctx, s.store, RecordAdapter, others, target, nil)
		if err != nil {
			return 0, err
		}
		lower := optional.Map(prev, recordPosition).ValueOr(LowerBound(target, s.cfg.Spacing))
		return Midpoint(lower, target), nil
	}, opts)
}

// InsertAfter places id between targetID and its successor.
func (s *Service) InsertAfter(ctx context.Context, p Partition, id, targetID string, opts ...ReformOption) (Record, error) {
	return s.place(ctx, p, id, func(ctx context.Context, others Partition) (float64, error) {
		target, err := s.positionOf(ctx, others, targetID)
		if err != nil {
			return 0, err
		}
		next, err := FindNext(ctx, s.store, RecordAdapter, others, target, nil)
		if err != nil {
			return 0, err
		}
		if upper, ok := optional.Map(next, recordPosition).Get(); ok {
			return Midpoint(target, upper), nil
		}
		return target + s.cfg.Spacing, nil
	}, opts)
}

// Append places id after the last record of the partition.
func (s *Service) Append(ctx context.Context, p Partition, id string, opts ...ReformOption) (Record, error) {
	return s.place(ctx, p, id, func(ctx context.Context, others Partition) (float64, error) {
		last, err := FindLast(ctx, s.store, RecordAdapter, others, nil)
		if err != nil {
			return 0, err
		}
		return optional.Map(last, recordPosition).ValueOr(0) + s.cfg.Spacing, nil
	}, opts)
}

// Prepend places id before the first record of the partition.
func (s *Service) Prepend(ctx context.Context, p Partition, id string, opts ...ReformOption) (Record, error) {
	return s.place(ctx, p, id, func(ctx context.Context, others Partition) (float64, error) {
		first, err := FindFirst(ctx, s.store, RecordAdapter, others, nil)
		if err != nil {
			return 0, err
		}
		pos, ok := optional.Map(first, recordPosition).Get()
		if !ok {
			return s.cfg.Spacing, nil
		}
		return Midpoint(LowerBound(pos, s.cfg.Spacing), pos), nil
	}, opts)
}

func (s *Service) place(ctx context.Context, p Partition, id string, desiredFn desiredFunc, opts []ReformOption) (Record, error) {
	unlock, err := s.locker.Lock(ctx, p)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	// moving a record of another partition would bypass its collision checks
	if _, err := s.lookup(ctx, p, id); err != nil {
		return Record{}, err
	}

	others := p.With(Ne(FieldID, id))

	final, err := s.resolve(ctx, others, desiredFn)
	if errors.Is(err, ErrExhaustedRetries) {
		// one forced reformation, then a single retry
		s.logger.WarnContext(ctx, "position resolution exhausted, reforming",
			slog.String("partition", p.Key()),
			slog.String("id", id),
		)
		if _, rerr := s.reformer.Reform(ctx, p, opts...); rerr != nil {
			return Record{}, rerr
		}
		final, err = s.resolve(ctx, others, desiredFn)
	}
	if err != nil {
		return Record{}, err
	}

	rec, err := s.store.UpdateByID(ctx, id, final)
	if err != nil {
		return Record{}, fmt.Errorf("apply position %v to %s: %w", final, id, err)
	}

	neighbor, err := s.nearestNeighbor(ctx, others, final)
	if err != nil {
		return Record{}, err
	}
	pos, ok := neighbor.Get()
	if !ok {
		return rec, nil
	}
	res, err := s.reformer.ReformIfNeeded(ctx, p, pos, final, opts...)
	if err != nil {
		return Record{}, err
	}
	if r, ok := res.Get(); ok {
		for _, u := range r.Updated {
			if u.ID == id {
				rec = u
				break
			}
		}
	}
	return rec, nil
}

func (s *Service) resolve(ctx context.Context, others Partition, desiredFn desiredFunc) (float64, error) {
	desired, err := desiredFn(ctx, others)
	if err != nil {
		return 0, err
	}
	return s.resolver.Resolve(ctx, others, desired)
}

// nearestNeighbor returns the position of the closer of pos's two neighbors.
func (s *Service) nearestNeighbor(ctx context.Context, p Partition, pos float64) (optional.Optional[float64], error) {
	prev, err := FindPrevious(ctx, s.store, RecordAdapter, p, pos, nil)
	if err != nil {
		return optional.None[float64](), err
	}
	next, err := FindNext(ctx, s.store, RecordAdapter, p, pos, nil)
	if err != nil {
		return optional.None[float64](), err
	}
	prevPos, hasPrev := optional.Map(prev, recordPosition).Get()
	nextPos, hasNext := optional.Map(next, recordPosition).Get()
	switch {
	case hasPrev && hasNext:
		if pos-prevPos <= nextPos-pos {
			return optional.Some(prevPos), nil
		}
		return optional.Some(nextPos), nil
	case hasPrev:
		return optional.Some(prevPos), nil
	case hasNext:
		return optional.Some(nextPos), nil
	}
	return optional.None[float64](), nil
}

func (s *Service) positionOf(ctx context.Context, p Partition, id string) (float64, error) {
	// others excludes the moving record, so targetID == id is not found
	r, err := s.lookup(ctx, p, id)
	if err != nil {
		return 0, fmt.Errorf("target: %w", err)
	}
	return r.Position, nil
}

// lookup fetches id from p. A record of another partition is not found.
func (s *Service) lookup(ctx context.Context, p Partition, id string) (Record, error) {
	rec, err := s.store.QueryOne(ctx, Query{Partition: p, Filter: Filter{Eq(FieldID, id)}})
	if err != nil {
		return Record{}, err
	}
	r, ok := rec.Get()
	if !ok {
		return Record{}, fmt.Errorf("record %s in partition %s: %w", id, p.Key(), ErrRecordNotFound)
	}
	return r, nil
}

func recordPosition(r Record) float64 {
	return r.Position
}
