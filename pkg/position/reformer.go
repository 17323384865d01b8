package position

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
)

// PositionUpdate moves one record from From to To. Updates carry absolute
// values so applying one twice is harmless.
type PositionUpdate struct {
	ID   string
	From float64
	To   float64
}

// Plan is the set of updates a reformation issues.
type Plan struct {
	Partition string
	Scanned   int
	Updates   []PositionUpdate
}

// Result describes a finished reformation.
type Result struct {
	Partition string
	Scanned   int
	Updated   []Record
}

type reformOptions struct {
	threshold  optional.Optional[float64]
	filter     Filter
	onUpdate   func(context.Context, Record) error
	onReformed func(context.Context, Result) error
}

type ReformOption func(*reformOptions)

// WithThreshold overrides the configured threshold for one call.
func WithThreshold(threshold float64) ReformOption {
	return func(o *reformOptions) {
		o.threshold = optional.Some(threshold)
	}
}

// WithFilter narrows the records a reformation renumbers.
func WithFilter(f Filter) ReformOption {
	return func(o *reformOptions) {
		o.filter = f
	}
}

// OnUpdate is called once per record whose position changed. With a
// transactional store it runs after commit.
func OnUpdate(fn func(context.Context, Record) error) ReformOption {
	return func(o *reformOptions) {
		o.onUpdate = fn
	}
}

// OnReformed is called once after every update has been applied.
func OnReformed(fn func(context.Context, Result) error) ReformOption {
	return func(o *reformOptions) {
		o.onReformed = fn
	}
}

// NeedsReformation reports whether the gap between two neighboring
// positions is below threshold.
func NeedsReformation(previous, next, threshold float64) bool {
	return math.Abs(next-previous) < threshold
}

// PlanReformation spaces records evenly, record i getting (i+1)*spacing.
// records must already be in order. Records already in place are skipped.
func PlanReformation(records []Record, spacing float64) []PositionUpdate {
	updates := make([]PositionUpdate, 0, len(records))
	for i, rec := range records {
		to := float64(i+1) * spacing
		if rec.Position == to {
			continue
		}
		updates = append(updates, PositionUpdate{ID: rec.ID, From: rec.Position, To: to})
	}
	return updates
}

type Reformer struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

func NewReformer(store Store, cfg Config, logger *slog.Logger) *Reformer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reformer{store: store, cfg: cfg, logger: logger}
}

// ReformIfNeeded renumbers the partition when previous and next are closer
// than the threshold. It returns None when nothing had to be done.
func (r *Reformer) ReformIfNeeded(ctx context.Context, p Partition, previous, next float64, opts ...ReformOption) (optional.Optional[Result], error) {
	o := r.options(opts)
	if !NeedsReformation(previous, next, o.threshold.ValueOr(r.cfg.Threshold)) {
		return optional.None[Result](), nil
	}
	res, err := r.reform(ctx, p, o)
	if err != nil {
		return optional.None[Result](), err
	}
	return optional.Some(res), nil
}

// Reform renumbers the partition unconditionally.
//
// On a Transactor the whole pass runs in one transaction and either every
// update lands or none does. Other stores get the updates one at a time; a
// failure returns a *ReformError that Resume accepts.
func (r *Reformer) Reform(ctx context.Context, p Partition, opts ...ReformOption) (Result, error) {
	return r.reform(ctx, p, r.options(opts))
}

// Resume applies the rest of a plan interrupted by a *ReformError.
func (r *Reformer) Resume(ctx context.Context, rerr *ReformError, opts ...ReformOption) (Result, error) {
	if rerr == nil || rerr.Next < 0 || rerr.Next > len(rerr.Plan.Updates) {
		return Result{}, ErrInvalidCursor
	}
	o := r.options(opts)
	applied := make([]Record, 0, len(rerr.Plan.Updates)-rerr.Next)
	next, err := r.apply(ctx, r.store, rerr.Plan, rerr.Next, o.onUpdate, &applied)
	if err != nil {
		return Result{}, &ReformError{Plan: rerr.Plan, Next: next, Err: err}
	}
	return r.finish(ctx, Result{
		Partition: rerr.Plan.Partition,
		Scanned:   rerr.Plan.Scanned,
		Updated:   applied,
	}, o)
}

func (r *Reformer) options(opts []ReformOption) reformOptions {
	var o reformOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (r *Reformer) reform(ctx context.Context, p Partition, o reformOptions) (Result, error) {
	if tx, ok := r.store.(Transactor); ok {
		var res Result
		err := tx.InTx(ctx, func(s Store) error {
			plan, err := r.plan(ctx, s, p, o.filter)
			if err != nil {
				return err
			}
			applied := make([]Record, 0, len(plan.Updates))
			if _, err := r.apply(ctx, s, plan, 0, nil, &applied); err != nil {
				return err
			}
			res = Result{Partition: plan.Partition, Scanned: plan.Scanned, Updated: applied}
			return nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("reform partition %s: %w", p.Key(), err)
		}
		if o.onUpdate != nil {
			for _, rec := range res.Updated {
				if err := o.onUpdate(ctx, rec); err != nil {
					return Result{}, fmt.Errorf("reform partition %s: update event: %w", p.Key(), err)
				}
			}
		}
		return r.finish(ctx, res, o)
	}

	plan, err := r.plan(ctx, r.store, p, o.filter)
	if err != nil {
		return Result{}, fmt.Errorf("reform partition %s: %w", p.Key(), err)
	}
	applied := make([]Record, 0, len(plan.Updates))
	next, err := r.apply(ctx, r.store, plan, 0, o.onUpdate, &applied)
	if err != nil {
		r.logger.WarnContext(ctx, "reformation interrupted",
			slog.String("partition", plan.Partition),
			slog.Int("applied", next),
			slog.Int("planned", len(plan.Updates)),
			slog.Any("error", err),
		)
		return Result{}, &ReformError{Plan: plan, Next: next, Err: err}
	}
	return r.finish(ctx, Result{Partition: plan.Partition, Scanned: plan.Scanned, Updated: applied}, o)
}

func (r *Reformer) plan(ctx context.Context, s Store, p Partition, filter Filter) (Plan, error) {
	var records []Record
	for rec, err := range s.QueryAll(ctx, Query{Partition: p, Filter: filter, Order: OrderAsc}) {
		if err != nil {
			return Plan{}, fmt.Errorf("scan partition: %w", err)
		}
		records = append(records, rec)
	}
	// stores already order, this pins the tie-break
	SortFunc(records, CompareRecords)
	return Plan{
		Partition: p.Key(),
		Scanned:   len(records),
		Updates:   PlanReformation(records, r.cfg.Spacing),
	}, nil
}

// apply issues plan.Updates[from:] and returns the index of the first
// update that did not complete.
func (r *Reformer) apply(ctx context.Context, s Store, plan Plan, from int, onUpdate func(context.Context, Record) error, applied *[]Record) (int, error) {
	for i := from; i < len(plan.Updates); i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		u := plan.Updates[i]
		rec, err := s.UpdateByID(ctx, u.ID, u.To)
		if err != nil {
			return i, fmt.Errorf("update %s: %w", u.ID, err)
		}
		*applied = append(*applied, rec)
		if onUpdate != nil {
			if err := onUpdate(ctx, rec); err != nil {
				return i + 1, fmt.Errorf("update event %s: %w", u.ID, err)
			}
		}
	}
	return len(plan.Updates), nil
}

func (r *Reformer) finish(ctx context.Context, res Result, o reformOptions) (Result, error) {
	r.logger.InfoContext(ctx, "partition reformed",
		slog.String("partition", res.Partition),
		slog.Int("scanned", res.Scanned),
		slog.Int("updated", len(res.Updated)),
	)
	if o.onReformed != nil {
		if err := o.onReformed(ctx, res); err != nil {
			return res, fmt.Errorf("reform partition %s: reformed event: %w", res.Partition, err)
		}
	}
	return res, nil
}
