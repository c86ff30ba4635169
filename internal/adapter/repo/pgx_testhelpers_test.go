package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"canvasapi/internal/domain"
)

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

type testRowsBase struct{}

func (testRowsBase) Close() {}

func (testRowsBase) Err() error { return nil }

func (testRowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (testRowsBase) Conn() *pgx.Conn { return nil }

func (testRowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (testRowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (testRowsBase) RawValues() [][]byte { return nil }

type analysisRows struct {
	testRowsBase
	items []domain.Analysis
	idx   int
}

func (r *analysisRows) Next() bool {
	if r.idx >= len(r.items) {
		return false
	}
	r.idx++
	return true
}

func (r *analysisRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.items) {
		return pgx.ErrNoRows
	}
	return scanInto(r.items[r.idx-1], dest)
}

// scanInto copies a into dest in QGetAnalysis column order.
func scanInto(a domain.Analysis, dest []any) error {
	if len(dest) != 10 {
		return fmt.Errorf("unexpected scan args: %d", len(dest))
	}
	strs := []string{a.ID, a.CanvasID, a.ImageURL, string(a.Status), a.Description, a.RefinedPrompt, a.FailedStage, a.ErrorMessage}
	for i, v := range strs {
		p, ok := dest[i].(*string)
		if !ok {
			return fmt.Errorf("dest[%d] is %T, want *string", i, dest[i])
		}
		*p = v
	}
	for i, v := range []time.Time{a.CreatedAt, a.UpdatedAt} {
		p, ok := dest[8+i].(*time.Time)
		if !ok {
			return fmt.Errorf("dest[%d] is %T, want *time.Time", 8+i, dest[8+i])
		}
		*p = v
	}
	return nil
}

type sqlCall struct {
	query string
	args  []any
}

// fakeSQL records every call and answers from canned results.
type fakeSQL struct {
	calls    []sqlCall
	row      pgx.Row
	rows     pgx.Rows
	affected int64
	err      error
}

func (f *fakeSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, sqlCall{query: query, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", f.affected)), nil
}

func (f *fakeSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	f.calls = append(f.calls, sqlCall{query: query, args: args})
	if f.row == nil {
		return simpleRow{}
	}
	return f.row
}

func (f *fakeSQL) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	f.calls = append(f.calls, sqlCall{query: query, args: args})
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}
