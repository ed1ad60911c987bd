package knowledge

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func documentRows(t *testing.T, docs ...Document) *sqlmock.Rows {
	t.Helper()
	rows := sqlmock.NewRows([]string{
		"id", "title", "content", "doc_type", "source", "tags",
		"status", "embedding", "indexed_at", "last_updated",
	})
	for _, doc := range docs {
		encoded, err := encodeEmbedding(doc.Embedding)
		if err != nil {
			t.Fatalf("encodeEmbedding: %v", err)
		}
		var embedding any
		if encoded.Valid {
			embedding = encoded.String
		}
		var indexedAt any
		if doc.IndexedAt != nil {
			indexedAt = *doc.IndexedAt
		}
		rows.AddRow(doc.ID, doc.Title, doc.Content, doc.DocType, doc.Source,
			pq.Array(doc.Tags), string(doc.Status), embedding, indexedAt, doc.LastUpdated)
	}
	return rows
}

func TestPostgresStoreCreateDefaults(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO knowledge_documents")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc := &Document{Title: "Pricing overview", Content: "Plans start at..."}
	if err := store.Create(context.Background(), doc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("expected generated id")
	}
	if doc.Status != StatusPending {
		t.Fatalf("expected PENDING default, got %s", doc.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresStoreGetDecodesEmbedding(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now().UTC()
	doc := Document{
		ID: "doc-1", Title: "t", Content: "c", DocType: "FAQ", Source: "manual",
		Tags: []string{"billing"}, Status: StatusIndexed,
		Embedding: []float32{0.1, 0.2}, IndexedAt: &now, LastUpdated: now,
	}
	mock.ExpectQuery("SELECT .+ FROM knowledge_documents").
		WithArgs("doc-1").
		WillReturnRows(documentRows(t, doc))

	got, err := store.Get(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.1 {
		t.Fatalf("expected decoded embedding, got %#v", got.Embedding)
	}
	if got.IndexedAt == nil {
		t.Fatal("expected indexed_at populated")
	}
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM knowledge_documents").
		WithArgs("missing").
		WillReturnRows(documentRows(t))

	_, err := store.Get(context.Background(), "missing")
	if err != ErrDocumentNotFound {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestPostgresStoreMarkIndexed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE knowledge_documents SET").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkIndexed(context.Background(), "doc-1", []float32{0.5}, time.Now())
	if err != nil {
		t.Fatalf("MarkIndexed: %v", err)
	}
}

func TestPostgresStoreArchiveMissingDocument(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE knowledge_documents SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Archive(context.Background(), "missing"); err != ErrDocumentNotFound {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestPostgresStoreSearchKeyword(t *testing.T) {
	store, mock := newMockStore(t)

	doc := Document{ID: "doc-1", Title: "Refund policy", Content: "...", Status: StatusIndexed, LastUpdated: time.Now()}
	mock.ExpectQuery("SELECT .+ FROM knowledge_documents").
		WithArgs(string(StatusIndexed), "refund", 5).
		WillReturnRows(documentRows(t, doc))

	docs, err := store.SearchKeyword(context.Background(), "refund", 5)
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "doc-1" {
		t.Fatalf("unexpected results: %#v", docs)
	}
}
