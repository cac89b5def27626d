package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/python-sandbox/internal/apperror"
	"github.com/sakif/python-sandbox/internal/model"
	"github.com/sakif/python-sandbox/internal/repository"
)

// Compile-time check that *DB implements repository.ExecutionRepository.
var _ repository.ExecutionRepository = (*DB)(nil)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Create inserts an execution record. An empty ID gets a fresh xid and a
// zero CreatedAt is set to now.
func (db *DB) Create(ctx context.Context, e *model.Execution) error {
	if e.ID == "" {
		e.ID = xid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Requirements == nil {
		e.Requirements = []string{}
	}

	requirements, err := json.Marshal(e.Requirements)
	if err != nil {
		return fmt.Errorf("sqlite: encoding requirements: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO executions (id, code_sha256, requirements, status, error, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.CodeSHA256,
		string(requirements),
		e.Status,
		e.Error,
		int64(e.Duration),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating execution: %w", err)
	}

	return nil
}

// GetByID retrieves a single execution record.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Execution, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, code_sha256, requirements, status, error, duration_ns, created_at
		 FROM executions
		 WHERE id = ?`,
		id,
	)

	e, err := scanExecution(row)
	if err != nil {
		// database/sql returns sql.ErrNoRows unwrapped
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("execution", id)
		}
		return nil, fmt.Errorf("sqlite: getting execution %s: %w", id, err)
	}
	return e, nil
}

// List returns execution records, newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, code_sha256, requirements, status, error, duration_ns, created_at
		 FROM executions
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing executions: %w", err)
	}
	// rows hold a connection until closed
	defer rows.Close()

	executions := make([]model.Execution, 0, limit)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning execution row: %w", err)
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating executions: %w", err)
	}

	return executions, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*model.Execution, error) {
	var (
		e            model.Execution
		requirements string
		durationNS   int64
	)
	if err := s.Scan(
		&e.ID, &e.CodeSHA256, &requirements, &e.Status,
		&e.Error, &durationNS, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(requirements), &e.Requirements); err != nil {
		return nil, fmt.Errorf("decoding requirements: %w", err)
	}
	e.Duration = time.Duration(durationNS)
	return &e, nil
}
