package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session turns in PostgreSQL so history survives
// restarts and can be shared between instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, seq)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, text FROM conversation_turns WHERE session_id=$1 ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	turns := []Turn{}
	for rows.Next() {
		var (
			role string
			t    Turn
		)
		if err := rows.Scan(&role, &t.Text); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = Role(role)
		if !validRole(t.Role) {
			return nil, fmt.Errorf("session %s: %w %q", sessionID, ErrInvalidRole, role)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

func (s *PostgresStore) Replace(ctx context.Context, sessionID string, turns []Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM conversation_turns WHERE session_id=$1`, sessionID); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}

	if len(turns) > 0 {
		rows := make([][]any, 0, len(turns))
		for i, t := range turns {
			rows = append(rows, []any{sessionID, i, string(t.Role), t.Text})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"conversation_turns"},
			[]string{"session_id", "seq", "role", "text"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy turns: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_turns WHERE session_id=$1`, sessionID); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM conversation_turns WHERE session_id=$1`,
		sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
