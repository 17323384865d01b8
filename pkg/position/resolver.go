package position

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
)

// Resolver turns a desired position into one no other record of the
// partition holds. It only reads; callers apply the result.
type Resolver struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

func NewResolver(store Store, cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{store: store, cfg: cfg, logger: logger}
}

// Resolve uses the configured attempt budget.
func (r *Resolver) Resolve(ctx context.Context, p Partition, desired float64) (float64, error) {
	return r.ResolveWithAttempts(ctx, p, desired, r.cfg.Attempts)
}

// ResolveWithAttempts probes at most attempts candidates. On a collision
// the next candidate is the midpoint between the colliding position and
// its predecessor, so every candidate is strictly closer to the
// predecessor than the last one while representable values remain.
func (r *Resolver) ResolveWithAttempts(ctx context.Context, p Partition, desired float64, attempts int) (float64, error) {
	candidate := desired
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		existing, err := r.store.QueryOne(ctx, Query{
			Partition: p,
			Position:  optional.Some(PositionEq(candidate)),
		})
		if err != nil {
			return 0, fmt.Errorf("probe position %v: %w", candidate, err)
		}
		if !existing.HasValue() {
			return candidate, nil
		}

		prev, err := FindPrevious(ctx, r.store, RecordAdapter, p, candidate, nil)
		if err != nil {
			return 0, fmt.Errorf("find predecessor of %v: %w", candidate, err)
		}
		lower := optional.Map(prev, func(rec Record) float64 { return rec.Position }).
			ValueOr(LowerBound(candidate, r.cfg.Spacing))

		next := Midpoint(lower, candidate)
		r.logger.DebugContext(ctx, "position collision",
			slog.String("partition", p.Key()),
			slog.Float64("position", candidate),
			slog.Float64("candidate", next),
			slog.Int("attempt", attempt),
		)
		candidate = next
	}

	return 0, &ExhaustedError{
		Partition: p.Key(),
		Desired:   desired,
		Last:      candidate,
		Attempts:  attempts,
	}
}

// Midpoint returns the value halfway between lower and upper. When no
// float64 lies strictly between them it returns upper unchanged.
func Midpoint(lower, upper float64) float64 {
	mid := lower + (upper-lower)/2
	if mid <= lower || mid >= upper {
		return upper
	}
	return mid
}

// LowerBound is the implied predecessor position of pos when the
// partition has nothing before it: 0 for positive positions, one spacing
// below otherwise.
func LowerBound(pos, spacing float64) float64 {
	if pos > 0 {
		return 0
	}
	return pos - spacing
}
