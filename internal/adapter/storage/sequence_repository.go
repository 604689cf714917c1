package storage

import (
	"context"
	"database/sql"
)

const sequenceInsertRetries = 3

// SQLSequence keeps one durable counter row per period.
type SQLSequence struct {
	db *sql.DB
	d  Dialect
}

func NewSQLSequence(db *sql.DB, d Dialect) *SQLSequence {
	return &SQLSequence{db: db, d: d}
}

func (s *SQLSequence) Next(ctx context.Context, period string) (int64, error) {
	var lastErr error
	for range sequenceInsertRetries {
		v, err := s.next(ctx, period)
		if err == nil {
			return v, nil
		}
		// Two callers raced to create the period row; the loser increments instead.
		if !s.d.isUniqueViolation(err) {
			return 0, persistErr("next order sequence", err)
		}
		lastErr = err
	}
	return 0, persistErr("next order sequence", lastErr)
}

func (s *SQLSequence) next(ctx context.Context, period string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE order_number_sequence SET value = value + 1 WHERE period = ?", period)
	if err != nil {
		return 0, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_number_sequence (period, value) VALUES (?, 1)", period); err != nil {
			return 0, err
		}
	}

	var v int64
	if err := tx.QueryRowContext(ctx,
		"SELECT value FROM order_number_sequence WHERE period = ?", period).Scan(&v); err != nil {
		return 0, err
	}
	return v, tx.Commit()
}
