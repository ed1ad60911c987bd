package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrDocumentNotFound indicates a lookup for an id that does not exist.
var ErrDocumentNotFound = errors.New("knowledge: document not found")

// Store is the document store contract the retriever and ingestor depend on.
type Store interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id string) error
	Archive(ctx context.Context, id string) error
	MarkIndexed(ctx context.Context, id string, embedding []float32, at time.Time) error
	MarkFailed(ctx context.Context, id string) error
	FindIndexed(ctx context.Context) ([]Document, error)
	SearchKeyword(ctx context.Context, query string, limit int) ([]Document, error)
	FindByTag(ctx context.Context, tag string, limit int) ([]Document, error)
	FindByType(ctx context.Context, docType string, limit int) ([]Document, error)
}

// PostgresStore persists knowledge documents for retrieval and ingestion.
// Embeddings are serialized as JSON text at the storage boundary only.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a document store backed by the provided database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	if db == nil {
		panic("knowledge: db cannot be nil")
	}
	return &PostgresStore{db: db}
}

const documentColumns = `id, title, content, doc_type, source, tags, status, embedding, indexed_at, last_updated`

// Create inserts a new document. Missing ids are generated and new documents
// default to PENDING.
func (s *PostgresStore) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = StatusPending
	}
	if doc.LastUpdated.IsZero() {
		doc.LastUpdated = time.Now().UTC()
	}

	embedding, err := encodeEmbedding(doc.Embedding)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_documents (
			id, title, content, doc_type, source, tags, status, embedding, indexed_at, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, doc.ID, doc.Title, doc.Content, doc.DocType, doc.Source,
		pq.Array(doc.Tags), string(doc.Status), embedding, doc.IndexedAt, doc.LastUpdated)
	if err != nil {
		return fmt.Errorf("knowledge: failed to create document: %w", err)
	}
	return nil
}

// Get retrieves one document by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM knowledge_documents
		WHERE id = $1
	`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: failed to get document: %w", err)
	}
	return doc, nil
}

// Update overwrites the mutable fields of a document.
func (s *PostgresStore) Update(ctx context.Context, doc *Document) error {
	embedding, err := encodeEmbedding(doc.Embedding)
	if err != nil {
		return err
	}
	doc.LastUpdated = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_documents SET
			title = $1, content = $2, doc_type = $3, source = $4, tags = $5,
			status = $6, embedding = $7, indexed_at = $8, last_updated = $9
		WHERE id = $10
	`, doc.Title, doc.Content, doc.DocType, doc.Source, pq.Array(doc.Tags),
		string(doc.Status), embedding, doc.IndexedAt, doc.LastUpdated, doc.ID)
	if err != nil {
		return fmt.Errorf("knowledge: failed to update document: %w", err)
	}
	return requireRow(res)
}

// Delete removes a document permanently.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("knowledge: failed to delete document: %w", err)
	}
	return requireRow(res)
}

// Archive logically deletes a document. Archived documents are excluded from
// every search path.
func (s *PostgresStore) Archive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_documents SET status = $1, last_updated = $2 WHERE id = $3
	`, string(StatusArchived), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("knowledge: failed to archive document: %w", err)
	}
	return requireRow(res)
}

// MarkIndexed records a successful embedding run.
func (s *PostgresStore) MarkIndexed(ctx context.Context, id string, embedding []float32, at time.Time) error {
	encoded, err := encodeEmbedding(embedding)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_documents SET
			status = $1, embedding = $2, indexed_at = $3, last_updated = $3
		WHERE id = $4
	`, string(StatusIndexed), encoded, at, id)
	if err != nil {
		return fmt.Errorf("knowledge: failed to mark indexed: %w", err)
	}
	return requireRow(res)
}

// MarkFailed records an embedding failure.
func (s *PostgresStore) MarkFailed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_documents SET status = $1, last_updated = $2 WHERE id = $3
	`, string(StatusFailed), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("knowledge: failed to mark failed: %w", err)
	}
	return requireRow(res)
}

// FindIndexed returns every document eligible for semantic search.
func (s *PostgresStore) FindIndexed(ctx context.Context) ([]Document, error) {
	return s.queryDocuments(ctx, `
		SELECT `+documentColumns+`
		FROM knowledge_documents
		WHERE status = $1
		ORDER BY indexed_at DESC
	`, string(StatusIndexed))
}

// SearchKeyword performs a case-insensitive text match over title and content.
func (s *PostgresStore) SearchKeyword(ctx context.Context, query string, limit int) ([]Document, error) {
	return s.queryDocuments(ctx, `
		SELECT `+documentColumns+`
		FROM knowledge_documents
		WHERE status = $1 AND (title ILIKE '%' || $2 || '%' OR content ILIKE '%' || $2 || '%')
		ORDER BY last_updated DESC
		LIMIT $3
	`, string(StatusIndexed), query, limit)
}

// FindByTag returns indexed documents carrying the given tag.
func (s *PostgresStore) FindByTag(ctx context.Context, tag string, limit int) ([]Document, error) {
	return s.queryDocuments(ctx, `
		SELECT `+documentColumns+`
		FROM knowledge_documents
		WHERE status = $1 AND $2 = ANY(tags)
		ORDER BY last_updated DESC
		LIMIT $3
	`, string(StatusIndexed), tag, limit)
}

// FindByType returns indexed documents of the given document type.
func (s *PostgresStore) FindByType(ctx context.Context, docType string, limit int) ([]Document, error) {
	return s.queryDocuments(ctx, `
		SELECT `+documentColumns+`
		FROM knowledge_documents
		WHERE status = $1 AND doc_type = $2
		ORDER BY last_updated DESC
		LIMIT $3
	`, string(StatusIndexed), docType, limit)
}

func (s *PostgresStore) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("knowledge: query failed: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("knowledge: scan failed: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("knowledge: row iteration failed: %w", err)
	}
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc       Document
		status    string
		embedding sql.NullString
		indexedAt sql.NullTime
	)
	err := row.Scan(
		&doc.ID, &doc.Title, &doc.Content, &doc.DocType, &doc.Source,
		pq.Array(&doc.Tags), &status, &embedding, &indexedAt, &doc.LastUpdated,
	)
	if err != nil {
		return nil, err
	}

	doc.Status = Status(status)
	if indexedAt.Valid {
		t := indexedAt.Time
		doc.IndexedAt = &t
	}
	if embedding.Valid && embedding.String != "" {
		vec, err := decodeEmbedding(embedding.String)
		if err != nil {
			return nil, err
		}
		doc.Embedding = vec
	}
	return &doc, nil
}

func encodeEmbedding(vec []float32) (sql.NullString, error) {
	if len(vec) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("knowledge: failed to encode embedding: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeEmbedding(encoded string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(encoded), &vec); err != nil {
		return nil, fmt.Errorf("knowledge: failed to decode embedding: %w", err)
	}
	return vec, nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("knowledge: failed to read result: %w", err)
	}
	if affected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
