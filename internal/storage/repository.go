// Package storage is the SQLite-backed ledger.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
	"ledgercache/internal/log"

	_ "modernc.org/sqlite"
)

const expenseColumns = `id, date, description, amount_cents, primary_category, secondary_category`

// SQLiteRepository stores one row per ledger entry. Dates are kept as
// "2006-01-02" text of the entry's local calendar day, so ordering and range
// queries work on the raw column.
type SQLiteRepository struct {
	db     *sql.DB
	loc    *time.Location
	logger *log.Logger
}

const (
	sqlitePragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	maxOpenConns  = 4
)

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// migrates it. Dates read back are placed at midnight in loc; nil means UTC.
func NewSQLiteRepository(dbPath string, loc *time.Location, logger *log.Logger) (*SQLiteRepository, error) {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentStorage)
	}
	logger = logger.WithComponent(log.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+sqlitePragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// WAL lets backfill reads and a write-path refresh run side by side;
	// writers still queue on the busy timeout.
	db.SetMaxOpenConns(maxOpenConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("SQLite ledger ready", "path", dbPath, "schema_version", version)

	return &SQLiteRepository{db: db, loc: loc, logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Append(ctx context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (date, description, amount_cents, primary_category, secondary_category)
		 VALUES (?, ?, ?, ?, ?)`,
		core.KeyOf(e.Date.Time).String(), e.Description, e.Amount.Cents, e.Primary, e.Secondary)
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Expense{}, fmt.Errorf("read expense id: %w", err)
	}
	e.ID = id

	r.logger.DebugContext(ctx, "Expense saved to SQLite",
		log.NewFields().WithExpense(e).WithOperation(log.OpCreate).ToSlice()...)
	return e, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE expenses
		 SET date = ?, description = ?, amount_cents = ?, primary_category = ?, secondary_category = ?
		 WHERE id = ?`,
		core.KeyOf(e.Date.Time).String(), e.Description, e.Amount.Cents, e.Primary, e.Secondary, e.ID)
	if err != nil {
		return fmt.Errorf("update expense %d: %w", e.ID, err)
	}
	return expectOneRow(res, "update", e.ID)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete expense %d: %w", id, err)
	}
	return expectOneRow(res, "delete", id)
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	e, err := scanExpense(row, r.loc)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense %d: %w", id, err)
	}
	return e, nil
}

// ExpensesForDay returns the entries of day's calendar day in insertion order.
// The result is never nil.
func (r *SQLiteRepository) ExpensesForDay(ctx context.Context, day time.Time) ([]core.Expense, error) {
	key := core.KeyOf(day)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE date = ? ORDER BY id`, key.String())
	if err != nil {
		return nil, fmt.Errorf("query expenses for %s: %w", key, err)
	}
	defer rows.Close()

	expenses := []core.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows, day.Location())
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses for %s: %w", key, err)
	}
	return expenses, nil
}

// BalanceForDay returns the running balance at the end of day: the negated
// sum of every amount dated on or before it.
func (r *SQLiteRepository) BalanceForDay(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	key := core.KeyOf(day)
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM expenses WHERE date <= ?`, key.String()).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum balance for %s: %w", key, err)
	}
	return core.BalanceFromCents(sum), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(s scanner, loc *time.Location) (core.Expense, error) {
	var (
		e    core.Expense
		date string
	)
	if err := s.Scan(&e.ID, &date, &e.Description, &e.Amount.Cents, &e.Primary, &e.Secondary); err != nil {
		return core.Expense{}, err
	}
	t, err := time.ParseInLocation(core.DayLayout, date, loc)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse stored date %q: %w", date, err)
	}
	e.Date = core.Date{Time: t}
	return e, nil
}

func expectOneRow(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s expense %d: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s expense %d: %w", op, id, ledger.ErrNotFound)
	}
	return nil
}

var _ ledger.Store = (*SQLiteRepository)(nil)
