package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/cloo-solutions/creditrust/internal/repository/sqlitemigrations"
)

// SQLiteFileName is the database file inside a vector store directory.
const SQLiteFileName = "index.db"

// SQLiteOptions controls how OpenSQLiteStore treats a missing index.
type SQLiteOptions struct {
	// CreateIfMissing creates the directory and schema. Without it a missing
	// index is reported as StoreUnavailable.
	CreateIfMissing bool
}

// SQLiteStore is a persistent vector collection in a single SQLite file.
// Similarity is cosine, computed in process over the filtered rows.
type SQLiteStore struct {
	mu         sync.RWMutex
	db         *sql.DB
	path       string
	collection string
}

// OpenSQLiteStore opens the collection stored under dir.
func OpenSQLiteStore(dir, collection string, opts SQLiteOptions) (*SQLiteStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, domain.NewConfigurationError("VECTOR_STORE_PATH", "must be set")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, domain.NewConfigurationError("COLLECTION", "must be set")
	}

	dbPath := filepath.Join(dir, SQLiteFileName)

	if opts.CreateIfMissing {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.NewStoreUnavailableError("creating vector store directory", err)
		}
	} else if _, err := os.Stat(dbPath); err != nil {
		return nil, domain.NewStoreUnavailableError("vector store not found at "+dir, err)
	}

	// WAL lets searches proceed while a batch is being written
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, domain.NewStoreUnavailableError("opening vector store", err)
	}

	s := &SQLiteStore{
		db:         db,
		path:       dbPath,
		collection: collection,
	}

	if opts.CreateIfMissing {
		err = s.migrate(sqlitemigrations.FS)
	} else {
		err = s.checkSchema()
	}
	if err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Collection returns the collection name.
func (s *SQLiteStore) Collection() string {
	return s.collection
}

// migrate runs all pending migrations.
func (s *SQLiteStore) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return classifySQLiteError("creating schema_migrations table", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return classifySQLiteError("getting current schema version", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_embeddings.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return classifySQLiteError("executing migration "+name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return classifySQLiteError("recording migration "+name, err)
		}
	}

	return nil
}

func (s *SQLiteStore) checkSchema() error {
	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'embeddings'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewStoreUnavailableError("vector store at "+s.path+" is not initialized", err)
	}
	if err != nil {
		return classifySQLiteError("reading vector store schema", err)
	}
	return nil
}

// Upsert writes docs in one transaction, replacing rows with the same chunk id.
func (s *SQLiteStore) Upsert(ctx context.Context, docs []domain.EmbeddedDocument) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLiteError("beginning upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (collection, chunk_id, product, complaint_id, document, embedding, dimensions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (collection, chunk_id) DO UPDATE SET
			product = excluded.product,
			complaint_id = excluded.complaint_id,
			document = excluded.document,
			embedding = excluded.embedding,
			dimensions = excluded.dimensions,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return classifySQLiteError("preparing upsert", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", d.ChunkID)
		}
		_, err := stmt.ExecContext(ctx,
			s.collection,
			d.ChunkID,
			d.Product,
			d.ComplaintID,
			d.Text,
			float32SliceToBytes(d.Embedding),
			len(d.Embedding),
		)
		if err != nil {
			return classifySQLiteError("upserting chunk "+d.ChunkID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifySQLiteError("committing upsert", err)
	}
	return nil
}

type scoredRow struct {
	chunkID string
	score   float64
}

// Search ranks the collection by cosine similarity to embedding and returns
// the best topK rows, ties broken by chunk id. A non-empty product restricts
// the candidates to rows with exactly that product.
func (s *SQLiteStore) Search(ctx context.Context, embedding []float32, topK int, product string) ([]domain.RetrievedDocument, error) {
	if topK <= 0 {
		return []domain.RetrievedDocument{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT chunk_id, embedding FROM embeddings WHERE collection = ?`
	args := []any{s.collection}
	if product != "" {
		query += ` AND product = ?`
		args = append(args, product)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifySQLiteError("searching vector store", err)
	}
	defer rows.Close()

	queryNorm := norm(embedding)
	best := make([]scoredRow, 0, topK+1)
	for rows.Next() {
		var chunkID string
		var blob []byte
		if err := rows.Scan(&chunkID, &blob); err != nil {
			return nil, classifySQLiteError("reading search candidates", err)
		}
		vec := bytesToFloat32Slice(blob)
		if len(vec) != len(embedding) {
			return nil, domain.NewConfigurationError("EMBEDDING_DIMENSIONS",
				fmt.Sprintf("query has %d dimensions but the index stores %d", len(embedding), len(vec)))
		}
		best = insertTopK(best, scoredRow{chunkID: chunkID, score: cosine(embedding, vec, queryNorm)}, topK)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLiteError("reading search candidates", err)
	}

	results := make([]domain.RetrievedDocument, 0, len(best))
	for _, b := range best {
		var doc domain.RetrievedDocument
		err := s.db.QueryRowContext(ctx,
			`SELECT chunk_id, product, complaint_id, document FROM embeddings WHERE collection = ? AND chunk_id = ?`,
			s.collection, b.chunkID,
		).Scan(&doc.ChunkID, &doc.Product, &doc.ComplaintID, &doc.Text)
		if err != nil {
			return nil, classifySQLiteError("loading search result "+b.chunkID, err)
		}
		doc.Score = b.score
		results = append(results, doc)
	}

	return results, nil
}

// Count returns the number of rows in the collection.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE collection = ?`, s.collection).Scan(&n)
	if err != nil {
		return 0, classifySQLiteError("counting vector store", err)
	}
	return n, nil
}

// insertTopK keeps best sorted by score descending then chunk id, at most k long.
func insertTopK(best []scoredRow, r scoredRow, k int) []scoredRow {
	i := sort.Search(len(best), func(i int) bool {
		if best[i].score != r.score {
			return best[i].score < r.score
		}
		return best[i].chunkID > r.chunkID
	})
	if i >= k {
		return best
	}
	best = append(best, scoredRow{})
	copy(best[i+1:], best[i:])
	best[i] = r
	if len(best) > k {
		best = best[:k]
	}
	return best
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(query, vec []float32, queryNorm float64) float64 {
	vecNorm := norm(vec)
	if queryNorm == 0 || vecNorm == 0 {
		return 0
	}
	var dot float64
	for i := range query {
		dot += float64(query[i]) * float64(vec[i])
	}
	return dot / (queryNorm * vecNorm)
}

// classifySQLiteError maps failures that make the index unusable to
// StoreUnavailable and wraps everything else with op.
func classifySQLiteError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN,
			sqlite3.SQLITE_READONLY, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CORRUPT,
			sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_FULL:
			return domain.NewStoreUnavailableError(op, err)
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "database is closed") {
		return domain.NewStoreUnavailableError(op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// float32SliceToBytes encodes a vector as little-endian float32s.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
