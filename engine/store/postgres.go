package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/trovekb/trove/engine/vector"
)

// Postgres stores embeddings in a pgvector sidecar table. Vectors
// cross the driver boundary as text in both directions: writes go
// through vector.Format into a ::vector cast and reads come back via
// ::text and vector.Parse.
type Postgres struct {
	db   *sqlx.DB
	dims int
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS problem_vectors (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	sha        TEXT NOT NULL DEFAULT '',
	embedding  vector(%d) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// NewPostgres connects to dsn and prepares the sidecar table. Fails
// fast when the pgvector extension is missing rather than erroring on
// the first upsert.
func NewPostgres(ctx context.Context, dsn string, dims int) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	p := &Postgres{db: db, dims: dims}
	if err := p.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresWithDB wraps an existing connection pool. No schema setup
// is performed; tests inject sqlmock through here.
func NewPostgresWithDB(db *sqlx.DB, dims int) *Postgres {
	return &Postgres{db: db, dims: dims}
}

func (p *Postgres) init(ctx context.Context) error {
	var hasExt bool
	err := p.db.GetContext(ctx, &hasExt,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`)
	if err != nil {
		return fmt.Errorf("store: check pgvector: %w", err)
	}
	if !hasExt {
		return errors.New("store: pgvector extension not installed")
	}
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(pgSchema, p.dims)); err != nil {
		return fmt.Errorf("store: create problem_vectors: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

type pgRow struct {
	ID        string `db:"id"`
	Title     string `db:"title"`
	SHA       string `db:"sha"`
	Embedding string `db:"embedding"`
}

func (r pgRow) record() (Record, error) {
	vec, err := vector.Parse(r.Embedding)
	if err != nil {
		return Record{}, fmt.Errorf("store: record %s: %w", r.ID, err)
	}
	return Record{
		ID:     r.ID,
		Vector: vec,
		Meta:   map[string]string{MetaTitle: r.Title, MetaSHA: r.SHA},
	}, nil
}

// BulkRead implements VectorStore.
func (p *Postgres) BulkRead(ctx context.Context) ([]Record, error) {
	var rows []pgRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT id, title, sha, embedding::text AS embedding FROM problem_vectors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: bulk read: %w", err)
	}
	out := make([]Record, len(rows))
	for i, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// Get implements VectorStore.
func (p *Postgres) Get(ctx context.Context, id string) (*Record, bool, error) {
	var row pgRow
	err := p.db.GetContext(ctx, &row,
		`SELECT id, title, sha, embedding::text AS embedding FROM problem_vectors WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s: %w", id, err)
	}
	rec, err := row.record()
	if err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// Upsert implements VectorStore.
func (p *Postgres) Upsert(ctx context.Context, rec Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO problem_vectors (id, title, sha, embedding, updated_at)
		VALUES ($1, $2, $3, $4::vector, now())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			sha = EXCLUDED.sha,
			embedding = EXCLUDED.embedding,
			updated_at = now()`,
		rec.ID, rec.Meta[MetaTitle], rec.Meta[MetaSHA], vector.Format(rec.Vector))
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Delete implements VectorStore.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM problem_vectors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}
