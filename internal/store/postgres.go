package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spboyer/promptloop/internal/models"
)

const (
	DefaultQueryTimeout = 30 * time.Second

	uniqueViolation = "23505"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS prompt_templates (
	id                UUID PRIMARY KEY,
	name              TEXT NOT NULL,
	version           TEXT NOT NULL,
	template_text     TEXT NOT NULL,
	input_schema      JSONB,
	output_schema     JSONB,
	metadata          JSONB,
	status            TEXT NOT NULL,
	parent_version_id UUID REFERENCES prompt_templates (id),
	created_at        TIMESTAMPTZ NOT NULL,
	activated_at      TIMESTAMPTZ,
	UNIQUE (name, version)
);
CREATE INDEX IF NOT EXISTS prompt_templates_name_idx ON prompt_templates (name, created_at DESC);`

const templateColumns = `id, name, version, template_text, input_schema, output_schema, metadata, status, parent_version_id, created_at, activated_at`

// pgxConn is the part of *pgxpool.Pool the store uses.
type pgxConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore keeps templates in PostgreSQL.
type PostgresStore struct {
	pool pgxConn
	now  func() time.Time
}

var _ TemplateStore = (*PostgresStore)(nil)

// OpenPostgres connects to dsn and creates the schema when missing.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := newPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(pool pgxConn) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

// Migrate creates the templates table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating template schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, name, version string) (*models.Template, error) {
	if version == "" {
		return s.GetActive(ctx, name)
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + templateColumns + `
		FROM prompt_templates
		WHERE name = $1 AND version = $2`

	t, err := scanTemplate(s.pool.QueryRow(ctx, query, name, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(name, version)
	}
	return t, err
}

func (s *PostgresStore) GetActive(ctx context.Context, name string) (*models.Template, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + templateColumns + `
		FROM prompt_templates
		WHERE name = $1 AND status = 'active'
		LIMIT 1`

	t, err := scanTemplate(s.pool.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(name, "")
	}
	return t, err
}

func (s *PostgresStore) List(ctx context.Context, name string) ([]*models.Template, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + templateColumns + `
		FROM prompt_templates
		WHERE name = $1
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", name, err)
	}
	defer rows.Close()

	var out []*models.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrPromptNotFound)
	}
	return out, nil
}

func (s *PostgresStore) Create(ctx context.Context, tmpl *models.Template) error {
	if err := prepareNew(tmpl, s.now()); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	input, output, metadata, err := encodeJSONColumns(tmpl)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO prompt_templates (` + templateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.pool.Exec(ctx, query,
		tmpl.ID,
		tmpl.Name,
		tmpl.Version,
		tmpl.Body,
		input,
		output,
		metadata,
		string(tmpl.Status),
		tmpl.ParentID,
		tmpl.CreatedAt,
		nil,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return conflict(tmpl.Name, tmpl.Version)
	}
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpl.Ref(), err)
	}
	return nil
}

// Activate archives the siblings and activates the target in one transaction.
func (s *PostgresStore) Activate(ctx context.Context, name, version string) (*models.Template, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning activation: %w", err)
	}

	t, err := s.activate(ctx, tx, name, version)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return nil, fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing activation: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) activate(ctx context.Context, tx pgx.Tx, name, version string) (*models.Template, error) {
	archive := `
		UPDATE prompt_templates
		SET status = 'archived'
		WHERE name = $1 AND version <> $2 AND status <> 'archived'`
	if _, err := tx.Exec(ctx, archive, name, version); err != nil {
		return nil, fmt.Errorf("archiving versions of %s: %w", name, err)
	}

	activate := `
		UPDATE prompt_templates
		SET status = 'active', activated_at = CASE WHEN status = 'active' THEN activated_at ELSE $3 END
		WHERE name = $1 AND version = $2
		RETURNING ` + templateColumns
	t, err := scanTemplate(tx.QueryRow(ctx, activate, name, version, s.now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(name, version)
	}
	if err != nil {
		return nil, fmt.Errorf("activating %s@%s: %w", name, version, err)
	}
	return t, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanTemplate(row pgx.Row) (*models.Template, error) {
	var t models.Template
	var input, output, metadata []byte
	var status string
	var parentID sql.NullString
	var activatedAt sql.NullTime

	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Version,
		&t.Body,
		&input,
		&output,
		&metadata,
		&status,
		&parentID,
		&t.CreatedAt,
		&activatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = models.TemplateStatus(status)
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if activatedAt.Valid {
		t.ActivatedAt = &activatedAt.Time
	}
	for _, col := range []struct {
		raw []byte
		dst *map[string]any
	}{
		{input, &t.InputSchema},
		{output, &t.OutputSchema},
		{metadata, &t.Metadata},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return nil, fmt.Errorf("decoding %s@%s: %w", t.Name, t.Version, err)
		}
	}
	return &t, nil
}

func encodeJSONColumns(t *models.Template) (input, output, metadata []byte, err error) {
	encode := func(m map[string]any) ([]byte, error) {
		if m == nil {
			return nil, nil
		}
		return json.Marshal(m)
	}
	if input, err = encode(t.InputSchema); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding input schema: %w", err)
	}
	if output, err = encode(t.OutputSchema); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding output schema: %w", err)
	}
	if metadata, err = encode(t.Metadata); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding metadata: %w", err)
	}
	return input, output, metadata, nil
}

// withTimeout wraps a context with a default query timeout if not already set
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}
