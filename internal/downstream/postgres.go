package downstream

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// SQLStep executes statements against Postgres in one transaction, e.g. to
// move the staged rows into the final tables.
type SQLStep struct {
	pool       *pgxpool.Pool
	statements []string
}

// NewSQLStep creates the connection pool. No connection is made until Run.
func NewSQLStep(ctx context.Context, dsn string, statements []string) (*SQLStep, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &SQLStep{pool: pool, statements: statements}, nil
}

func (s *SQLStep) Name() string { return "sql" }

func (s *SQLStep) Run(ctx context.Context, _ models.CycleReport) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for i, stmt := range s.statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

func (s *SQLStep) Close() error {
	s.pool.Close()
	return nil
}
