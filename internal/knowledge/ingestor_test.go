package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/atlasgrove/marketing-ai-platform/pkg/logging"
)

type memStore struct {
	Store
	mu   sync.Mutex
	docs map[string]*Document
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]*Document)}
}

func (m *memStore) Create(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.ID == "" {
		doc.ID = "generated"
	}
	copied := *doc
	m.docs[doc.ID] = &copied
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (m *memStore) MarkIndexed(ctx context.Context, id string, embedding []float32, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.Status = StatusIndexed
	doc.Embedding = embedding
	doc.IndexedAt = &at
	return nil
}

func (m *memStore) MarkFailed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.Status = StatusFailed
	return nil
}

func (m *memStore) status(id string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[id]; ok {
		return doc.Status
	}
	return ""
}

func waitForStatus(t *testing.T, store *memStore, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.status(id) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("document %s never reached %s (last: %s)", id, want, store.status(id))
}

func TestIngestorIndexesDocument(t *testing.T) {
	store := newMemStore()
	ing := NewIngestor(store, &stubEmbedder{vectors: [][]float32{{0.1, 0.2}}}, 1, logging.Default())
	defer ing.Shutdown(context.Background())

	doc := &Document{ID: "doc-1", Title: "t", Content: "body"}
	if err := ing.Ingest(context.Background(), doc); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	waitForStatus(t, store, "doc-1", StatusIndexed)

	stored, _ := store.Get(context.Background(), "doc-1")
	if len(stored.Embedding) != 2 {
		t.Fatalf("expected embedding stored, got %#v", stored.Embedding)
	}
	if stored.IndexedAt == nil {
		t.Fatal("expected indexed_at set")
	}
}

func TestIngestorMarksFailedOnEmbeddingError(t *testing.T) {
	store := newMemStore()
	ing := NewIngestor(store, &stubEmbedder{err: errors.New("quota exceeded")}, 1, logging.Default())
	defer ing.Shutdown(context.Background())

	doc := &Document{ID: "doc-2", Content: "body"}
	if err := ing.Ingest(context.Background(), doc); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	waitForStatus(t, store, "doc-2", StatusFailed)
}

type blockingEmbedder struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestIngestorShutdownUnblocksQueuedSender(t *testing.T) {
	store := newMemStore()
	emb := &blockingEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	ing := NewIngestor(store, emb, 1, logging.Default())

	if err := ing.Ingest(context.Background(), &Document{ID: "busy", Content: "body"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	<-emb.started // the only worker is now stuck embedding

	for i := 0; i < 64; i++ {
		doc := &Document{ID: fmt.Sprintf("fill-%d", i), Content: "body"}
		if err := ing.Ingest(context.Background(), doc); err != nil {
			t.Fatalf("Ingest fill-%d: %v", i, err)
		}
	}

	parked := make(chan error, 1)
	go func() {
		parked <- ing.Ingest(context.Background(), &Document{ID: "overflow", Content: "body"})
	}()
	time.Sleep(50 * time.Millisecond) // let the sender park on the full queue

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	ing.Shutdown(shutdownCtx)

	select {
	case err := <-parked:
		if !errors.Is(err, ErrIngestorClosed) {
			t.Fatalf("expected ErrIngestorClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued Ingest never returned after shutdown")
	}

	close(emb.release)
	if err := ing.Shutdown(context.Background()); err != nil {
		t.Fatalf("final Shutdown: %v", err)
	}
}

func TestIngestorRejectsAfterShutdown(t *testing.T) {
	store := newMemStore()
	ing := NewIngestor(store, &stubEmbedder{vectors: [][]float32{{1}}}, 1, logging.Default())

	if err := ing.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := ing.Ingest(context.Background(), &Document{ID: "late"}); err != ErrIngestorClosed {
		t.Fatalf("expected ErrIngestorClosed, got %v", err)
	}
}
