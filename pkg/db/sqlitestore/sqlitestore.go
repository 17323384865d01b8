// Package sqlitestore binds position.Store to a SQLite table.
//
// Typed conditions are translated into parameterized SQL. Only columns
// named in Config are accepted, so caller input never reaches the query
// text.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"slices"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/pingcap/log"
	_ "modernc.org/sqlite"

	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/optional"
	"github.com/the-dev-tools/dev-tools/packages/ordering/pkg/position"
)

//go:embed schema.sql
var ddl string

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config names the table and the columns the store may touch.
type Config struct {
	Table          string
	IDColumn       string
	PositionColumn string
	// Fields maps filter field names to column names.
	Fields map[string]string
}

// DefaultConfig matches the embedded schema.
func DefaultConfig() Config {
	return Config{
		Table:          "ordered_items",
		IDColumn:       "id",
		PositionColumn: "position",
		Fields:         map[string]string{"list_id": "list_id"},
	}
}

// CreateTables applies the embedded schema.
func CreateTables(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	for _, stmt := range strings.Split(ddl, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db     *sql.DB
	q      querier
	inTx   bool
	cfg    Config
	fields []string
	cols   string
}

var (
	_ position.Store      = (*Store)(nil)
	_ position.Transactor = (*Store)(nil)
)

func New(db *sql.DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlitestore: db handle is required")
	}
	idents := []string{cfg.Table, cfg.IDColumn, cfg.PositionColumn}
	fields := make([]string, 0, len(cfg.Fields))
	for field, col := range cfg.Fields {
		if field == position.FieldID || field == position.FieldPosition {
			return nil, fmt.Errorf("sqlitestore: field %q is reserved", field)
		}
		fields = append(fields, field)
		idents = append(idents, col)
	}
	for _, ident := range idents {
		if !identRegex.MatchString(ident) {
			return nil, fmt.Errorf("sqlitestore: invalid identifier %q", ident)
		}
	}
	slices.Sort(fields)

	cols := []string{quote(cfg.IDColumn), quote(cfg.PositionColumn)}
	for _, f := range fields {
		cols = append(cols, quote(cfg.Fields[f]))
	}

	return &Store{
		db:     db,
		q:      db,
		cfg:    cfg,
		fields: fields,
		cols:   strings.Join(cols, ", "),
	}, nil
}

// TX returns a store bound to tx.
func (s *Store) TX(tx *sql.Tx) *Store {
	return &Store{
		db:     s.db,
		q:      tx,
		inTx:   true,
		cfg:    s.cfg,
		fields: s.fields,
		cols:   s.cols,
	}
}

// InTx runs fn in a transaction. Called on a store that is already bound to
// a transaction, fn joins it.
func (s *Store) InTx(ctx context.Context, fn func(position.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txnRollback(tx)

	if err := fn(s.TX(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// Insert stores a new record under a fresh ULID.
func (s *Store) Insert(ctx context.Context, pos float64, fields map[string]any) (position.Record, error) {
	for f := range fields {
		if _, ok := s.cfg.Fields[f]; !ok {
			return position.Record{}, fmt.Errorf("insert: %w: %s", position.ErrUnknownField, f)
		}
	}

	id := ulid.Make().String()
	cols := []string{quote(s.cfg.IDColumn), quote(s.cfg.PositionColumn)}
	args := []any{id, pos}
	for _, f := range s.fields {
		v, ok := fields[f]
		if !ok {
			continue
		}
		cols = append(cols, quote(s.cfg.Fields[f]))
		args = append(args, v)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quote(s.cfg.Table), strings.Join(cols, ", "), placeholders(len(cols)), s.cols)
	return s.scan(s.q.QueryRowContext(ctx, query, args...))
}

func (s *Store) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(s.cfg.Table), quote(s.cfg.IDColumn))
	res, err := s.q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", id, position.ErrRecordNotFound)
	}
	return nil
}

func (s *Store) QueryOne(ctx context.Context, q position.Query) (optional.Optional[position.Record], error) {
	query, args, err := s.selectSQL(q)
	if err != nil {
		return optional.None[position.Record](), err
	}
	rec, err := s.scan(s.q.QueryRowContext(ctx, query+" LIMIT 1", args...))
	if errors.Is(err, sql.ErrNoRows) {
		return optional.None[position.Record](), nil
	}
	if err != nil {
		return optional.None[position.Record](), err
	}
	return optional.Some(rec), nil
}

func (s *Store) QueryAll(ctx context.Context, q position.Query) iter.Seq2[position.Record, error] {
	return func(yield func(position.Record, error) bool) {
		query, args, err := s.selectSQL(q)
		if err != nil {
			yield(position.Record{}, err)
			return
		}
		rows, err := s.q.QueryContext(ctx, query, args...)
		if err != nil {
			yield(position.Record{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := s.scan(rows)
			if !yield(rec, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(position.Record{}, err)
		}
	}
}

func (s *Store) UpdateByID(ctx context.Context, id string, pos float64) (position.Record, error) {
	query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ? RETURNING %s",
		quote(s.cfg.Table), quote(s.cfg.PositionColumn), quote(s.cfg.IDColumn), s.cols)
	rec, err := s.scan(s.q.QueryRowContext(ctx, query, pos, id))
	if errors.Is(err, sql.ErrNoRows) {
		return position.Record{}, fmt.Errorf("update %s: %w", id, position.ErrRecordNotFound)
	}
	return rec, err
}

func (s *Store) selectSQL(q position.Query) (string, []any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", s.cols, quote(s.cfg.Table))

	conds := q.Conditions()
	args := make([]any, 0, len(conds))
	for i, c := range conds {
		col, err := s.column(c.Field)
		if err != nil {
			return "", nil, err
		}
		if !c.Op.Valid() {
			return "", nil, fmt.Errorf("sqlitestore: invalid operator %s on %s", c.Op, c.Field)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s %s ?", col, c.Op)
		args = append(args, c.Value)
	}

	switch q.Order {
	case position.OrderAsc:
		fmt.Fprintf(&b, " ORDER BY %s ASC, %s ASC", quote(s.cfg.PositionColumn), quote(s.cfg.IDColumn))
	case position.OrderDesc:
		fmt.Fprintf(&b, " ORDER BY %s DESC, %s DESC", quote(s.cfg.PositionColumn), quote(s.cfg.IDColumn))
	}
	return b.String(), args, nil
}

func (s *Store) column(field string) (string, error) {
	switch field {
	case position.FieldID:
		return quote(s.cfg.IDColumn), nil
	case position.FieldPosition:
		return quote(s.cfg.PositionColumn), nil
	}
	col, ok := s.cfg.Fields[field]
	if !ok {
		return "", fmt.Errorf("%w: %s", position.ErrUnknownField, field)
	}
	return quote(col), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(sc scanner) (position.Record, error) {
	var rec position.Record
	vals := make([]any, len(s.fields))
	dest := make([]any, 0, 2+len(vals))
	dest = append(dest, &rec.ID, &rec.Position)
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	if err := sc.Scan(dest...); err != nil {
		return position.Record{}, err
	}
	if len(s.fields) > 0 {
		rec.Fields = make(map[string]any, len(s.fields))
		for i, f := range s.fields {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			rec.Fields[f] = vals[i]
		}
	}
	return rec, nil
}

// txnRollback is deferred right after BeginTx; after a commit it is a no-op.
func txnRollback(tx *sql.Tx) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Error(err.Error())
	}
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
