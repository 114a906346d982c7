package broker

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/federata/federata/internal/database/common"
)

// Query runs a statement against the member and returns its rows keyed by
// column name. Statements must already carry the member family's placeholder
// style.
func (h *Handle) Query(ctx context.Context, query string, args ...interface{}) ([]common.Row, error) {
	if h.pool != nil {
		rows, err := h.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query member: %w", err)
		}
		defer rows.Close()
		return collectPgxRows(rows)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query member: %w", err)
	}
	defer rows.Close()
	return collectSQLRows(rows)
}

// Exec runs a statement against the member and returns the affected row
// count
func (h *Handle) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if h.pool != nil {
		tag, err := h.pool.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to exec on member: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	result, err := h.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to exec on member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

// Tx is one member transaction. Like Handle, exactly one of the underlying
// transactions is set.
type Tx struct {
	pgTx  pgx.Tx
	sqlTx *sql.Tx
}

// Begin opens a transaction on the member
func (h *Handle) Begin(ctx context.Context) (*Tx, error) {
	if h.pool != nil {
		tx, err := h.pool.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		return &Tx{pgTx: tx}, nil
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{sqlTx: tx}, nil
}

// Query runs a statement inside the transaction
func (t *Tx) Query(ctx context.Context, query string, args ...interface{}) ([]common.Row, error) {
	if t.pgTx != nil {
		rows, err := t.pgTx.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query in transaction: %w", err)
		}
		defer rows.Close()
		return collectPgxRows(rows)
	}

	rows, err := t.sqlTx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query in transaction: %w", err)
	}
	defer rows.Close()
	return collectSQLRows(rows)
}

// Exec runs a statement inside the transaction
func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if t.pgTx != nil {
		tag, err := t.pgTx.Exec(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to exec in transaction: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	result, err := t.sqlTx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to exec in transaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

// Commit commits the transaction
func (t *Tx) Commit(ctx context.Context) error {
	if t.pgTx != nil {
		return t.pgTx.Commit(ctx)
	}
	return t.sqlTx.Commit()
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.pgTx != nil {
		return t.pgTx.Rollback(ctx)
	}
	return t.sqlTx.Rollback()
}

func collectPgxRows(rows pgx.Rows) ([]common.Row, error) {
	fields := rows.FieldDescriptions()
	var out []common.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		row := make(common.Row, len(fields))
		for i, field := range fields {
			row[field.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

func collectSQLRows(rows *sql.Rows) ([]common.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read column names: %w", err)
	}

	var out []common.Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		scanTargets := make([]interface{}, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(common.Row, len(columns))
		for i, name := range columns {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
			} else {
				row[name] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}
