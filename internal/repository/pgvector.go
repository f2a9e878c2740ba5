package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgVectorStore keeps complaint chunks in Postgres with pgvector.
type PgVectorStore struct {
	pool       *pgxpool.Pool
	db         dbtx
	collection string
}

func NewPgVectorStore(pool *pgxpool.Pool, collection string) *PgVectorStore {
	return &PgVectorStore{pool: pool, db: pool, collection: collection}
}

// Upsert writes docs in one transaction, replacing rows with the same chunk id.
func (r *PgVectorStore) Upsert(ctx context.Context, docs []domain.EmbeddedDocument) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classifyPgError("beginning upsert", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(
			`INSERT INTO complaint_chunks (collection, chunk_id, product, complaint_id, document, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (collection, chunk_id) DO UPDATE SET
				product = EXCLUDED.product,
				complaint_id = EXCLUDED.complaint_id,
				document = EXCLUDED.document,
				embedding = EXCLUDED.embedding,
				updated_at = NOW()`,
			r.collection,
			d.ChunkID,
			d.Product,
			d.ComplaintID,
			d.Text,
			pgvector.NewVector(d.Embedding),
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, d := range docs {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return classifyPgError("upserting chunk "+d.ChunkID, err)
		}
	}
	if err := results.Close(); err != nil {
		return classifyPgError("upserting chunks", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPgError("committing upsert", err)
	}
	return nil
}

// Search orders by cosine distance and scores hits as 1/(1+distance).
func (r *PgVectorStore) Search(ctx context.Context, embedding []float32, topK int, product string) ([]domain.RetrievedDocument, error) {
	if topK <= 0 {
		return []domain.RetrievedDocument{}, nil
	}

	vec := pgvector.NewVector(embedding)

	query := `
		SELECT chunk_id, product, complaint_id, document,
		       1.0 / (1.0 + (embedding <=> $1)) AS score
		FROM complaint_chunks
		WHERE collection = $2 AND ($3 = '' OR product = $3)
		ORDER BY score DESC, chunk_id
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, vec, r.collection, product, topK)
	if err != nil {
		return nil, classifyPgError("searching vector store", err)
	}
	defer rows.Close()

	results := make([]domain.RetrievedDocument, 0, topK)
	for rows.Next() {
		var d domain.RetrievedDocument
		if err := rows.Scan(&d.ChunkID, &d.Product, &d.ComplaintID, &d.Text, &d.Score); err != nil {
			return nil, classifyPgError("reading search results", err)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("reading search results", err)
	}

	return results, nil
}

func (r *PgVectorStore) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM complaint_chunks WHERE collection = $1`, r.collection).Scan(&n)
	if err != nil {
		return 0, classifyPgError("counting vector store", err)
	}
	return n, nil
}

// Close releases the pool.
func (r *PgVectorStore) Close() error {
	r.pool.Close()
	return nil
}

// undefined_table, undefined_object (missing vector extension) and the
// connection exception class leave the store unusable.
var unavailablePgCodes = map[string]bool{
	"42P01": true,
	"42704": true,
	"08000": true,
	"08003": true,
	"08006": true,
	"08001": true,
	"08004": true,
	"57P01": true,
	"57P03": true,
}

func classifyPgError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if unavailablePgCodes[pgErr.Code] {
			return domain.NewStoreUnavailableError(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	// Anything that never reached the server: dial failures, closed pool.
	return domain.NewStoreUnavailableError(op, err)
}
