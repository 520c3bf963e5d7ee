package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"labsync/internal/services"
)

// EnsureParameterSet returns the id of the parameter set matching the
// byte-identical canonical serialization, inserting a new row (max+1 id)
// when none exists. Callers must canonicalize before serializing.
func (s *Store) EnsureParameterSet(ctx context.Context, algorithm, parameters string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin parameter tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(
		ctx,
		`SELECT id FROM parameter_sets WHERE algorithm = ? AND parameters = ?`,
		algorithm,
		parameters,
	).Scan(&id)
	switch {
	case err == nil:
		return id, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("lookup parameter set: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM parameter_sets`).Scan(&id); err != nil {
		return 0, fmt.Errorf("allocate parameter set id: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO parameter_sets (id, algorithm, parameters) VALUES (?, ?, ?)`,
		id,
		algorithm,
		parameters,
	); err != nil {
		return 0, fmt.Errorf("insert parameter set: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit parameter set: %w", err)
	}
	return id, nil
}

// GetParameterSet fetches a parameter set by id.
func (s *Store) GetParameterSet(ctx context.Context, id int64) (*ParameterSet, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, algorithm, parameters FROM parameter_sets WHERE id = ?`,
		id,
	)
	var set ParameterSet
	err := row.Scan(&set.ID, &set.Algorithm, &set.Parameters)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "queue", "get", fmt.Sprintf("parameter set %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get parameter set: %w", err)
	}
	return &set, nil
}

// CountParameterSets returns the number of stored parameter sets.
func (s *Store) CountParameterSets(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM parameter_sets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count parameter sets: %w", err)
	}
	return count, nil
}
