// Package pg implements the document index on PostgreSQL with the pgvector
// extension.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/sweetpotato0/crag/config"
	errorskg "github.com/sweetpotato0/crag/errors"
	"github.com/sweetpotato0/crag/rag/document"
	"github.com/sweetpotato0/crag/vector"
)

var (
	_ vector.Index  = (*Index)(nil)
	_ vector.Writer = (*Index)(nil)
)

// Index searches a documents table by cosine distance.
type Index struct {
	db        *sql.DB
	embedder  vector.Embedder
	dimension int
	tableName string
}

// New connects to PostgreSQL and ensures the documents table exists.
func New(ctx context.Context, cfg config.PostgresConfig, embedder vector.Embedder) (*Index, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errorskg.Wrap(errorskg.KindVectorStore, "pg.New", fmt.Errorf("failed to connect to PostgreSQL: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errorskg.Wrap(errorskg.KindVectorStore, "pg.New", fmt.Errorf("failed to ping PostgreSQL: %w", err))
	}

	ix := NewWithDB(db, cfg.Table, cfg.Dimension, embedder)
	if err := ix.setup(ctx); err != nil {
		db.Close()
		return nil, errorskg.Wrap(errorskg.KindVectorStore, "pg.New", fmt.Errorf("failed to setup pgvector: %w", err))
	}
	return ix, nil
}

// NewWithDB wraps an existing connection without running migrations.
func NewWithDB(db *sql.DB, table string, dimension int, embedder vector.Embedder) *Index {
	if table == "" {
		table = "documents"
	}
	return &Index{db: db, embedder: embedder, dimension: dimension, tableName: table}
}

func (ix *Index) setup(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTableSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(255) PRIMARY KEY,
		content TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		section TEXT NOT NULL DEFAULT '',
		domain TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, pq.QuoteIdentifier(ix.tableName), ix.dimension)
	if _, err := ix.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	indexSQL := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
		pq.QuoteIdentifier(ix.tableName+"_embedding_idx"), pq.QuoteIdentifier(ix.tableName))
	if _, err := ix.db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("failed to create embedding index: %w", err)
	}
	return nil
}

// Add embeds docs and upserts them by ID (fingerprint when empty).
func (ix *Index) Add(ctx context.Context, docs []document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return errorskg.Wrap(errorskg.KindVectorStore, "pg.Add", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
	INSERT INTO %s (id, content, source, title, section, domain, url, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)
	ON CONFLICT (id) DO UPDATE SET
		content = EXCLUDED.content,
		source = EXCLUDED.source,
		title = EXCLUDED.title,
		section = EXCLUDED.section,
		domain = EXCLUDED.domain,
		url = EXCLUDED.url,
		embedding = EXCLUDED.embedding,
		created_at = CURRENT_TIMESTAMP
	`, pq.QuoteIdentifier(ix.tableName))

	for i, d := range docs {
		if len(vecs[i]) != ix.dimension {
			return errorskg.New(errorskg.KindVectorStore, "pg.Add",
				fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", ix.dimension, len(vecs[i])))
		}
		id := d.ID
		if id == "" {
			id = d.Fingerprint()
		}
		m := d.Metadata
		if _, err := tx.ExecContext(ctx, query, id, d.Content, m.Source, m.Title, m.Section,
			strings.ToLower(m.Domain), m.URL, vectorToString(vecs[i])); err != nil {
			return errorskg.Wrap(errorskg.KindVectorStore, "pg.Add", fmt.Errorf("failed to add document %s: %w", id, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return errorskg.Wrap(errorskg.KindVectorStore, "pg.Add", err)
	}
	return nil
}

// Search embeds q.Text and returns the nearest documents by cosine distance.
func (ix *Index) Search(ctx context.Context, q vector.Query) ([]document.Document, error) {
	k := q.K
	if k <= 0 {
		k = 10
	}
	vec, err := ix.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	if len(vec) != ix.dimension {
		return nil, errorskg.New(errorskg.KindVectorStore, "pg.Search",
			fmt.Sprintf("query vector dimension mismatch: expected %d, got %d", ix.dimension, len(vec)))
	}

	query, args := ix.searchQuery(vectorToString(vec), k, q.Domains)
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errorskg.Wrap(errorskg.KindVectorStore, "pg.Search", fmt.Errorf("failed to search documents: %w", err))
	}
	defer rows.Close()

	docs := make([]document.Document, 0, k)
	for rows.Next() {
		var (
			d        document.Document
			distance float64
		)
		if err := rows.Scan(&d.ID, &d.Content, &d.Metadata.Source, &d.Metadata.Title, &d.Metadata.Section,
			&d.Metadata.Domain, &d.Metadata.URL, &distance); err != nil {
			return nil, errorskg.Wrap(errorskg.KindVectorStore, "pg.Search", fmt.Errorf("failed to scan document: %w", err))
		}
		d.EmbeddingScore = document.Score(vector.ScoreFromCosine(1 - distance))
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errorskg.Wrap(errorskg.KindVectorStore, "pg.Search", fmt.Errorf("error iterating documents: %w", err))
	}
	return docs, nil
}

func (ix *Index) searchQuery(vec string, k int, domains []string) (string, []any) {
	args := []any{vec}
	where := ""
	if len(domains) > 0 {
		lower := make([]string, len(domains))
		for i, d := range domains {
			lower[i] = strings.ToLower(d)
		}
		args = append(args, pq.Array(lower))
		where = "WHERE domain = ANY($2)"
	}
	args = append(args, k)
	query := fmt.Sprintf(`
	SELECT id, content, source, title, section, domain, url, embedding <=> $1::vector AS distance
	FROM %s
	%s
	ORDER BY distance
	LIMIT $%d
	`, pq.QuoteIdentifier(ix.tableName), where, len(args))
	return query, args
}

// Count returns the number of indexed documents.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(ix.tableName))
	if err := ix.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errorskg.Wrap(errorskg.KindVectorStore, "pg.Count", fmt.Errorf("failed to count documents: %w", err))
	}
	return count, nil
}

// Close closes the database connection
func (ix *Index) Close() error {
	return ix.db.Close()
}

func vectorToString(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
