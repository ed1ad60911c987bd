package knowledge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/atlasgrove/marketing-ai-platform/pkg/logging"
)

// ErrIngestorClosed indicates the ingestor is no longer accepting documents.
var ErrIngestorClosed = errors.New("knowledge: ingestor closed")

const defaultIngestWorkers = 2

// Ingestor accepts new documents and embeds them asynchronously on a bounded
// worker pool. Documents are created PENDING and transition to INDEXED or
// FAILED once embedding completes.
type Ingestor struct {
	store    Store
	embedder embedder
	logger   *logging.Logger

	jobs chan string
	quit chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewIngestor starts the worker pool and returns the ingestor.
func NewIngestor(store Store, embedder embedder, workers int, logger *logging.Logger) *Ingestor {
	if store == nil {
		panic("knowledge: store cannot be nil")
	}
	if embedder == nil {
		panic("knowledge: embedder cannot be nil")
	}
	if workers <= 0 {
		workers = defaultIngestWorkers
	}
	if logger == nil {
		logger = logging.Default()
	}

	ing := &Ingestor{
		store:    store,
		embedder: embedder,
		logger:   logger,
		jobs:     make(chan string, 64),
		quit:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		ing.wg.Add(1)
		go ing.runWorker()
	}
	return ing
}

// Ingest persists the document as PENDING and queues it for embedding.
func (ing *Ingestor) Ingest(ctx context.Context, doc *Document) error {
	ing.mu.Lock()
	if ing.closed {
		ing.mu.Unlock()
		return ErrIngestorClosed
	}
	ing.mu.Unlock()

	doc.Status = StatusPending
	doc.Embedding = nil
	doc.IndexedAt = nil
	if err := ing.store.Create(ctx, doc); err != nil {
		return err
	}

	return ing.enqueue(ctx, doc.ID)
}

// Reindex queues an existing document for a fresh embedding run.
func (ing *Ingestor) Reindex(ctx context.Context, id string) error {
	ing.mu.Lock()
	if ing.closed {
		ing.mu.Unlock()
		return ErrIngestorClosed
	}
	ing.mu.Unlock()

	if _, err := ing.store.Get(ctx, id); err != nil {
		return err
	}
	return ing.enqueue(ctx, id)
}

// enqueue blocks until the job is queued, the ingestor shuts down, or the
// caller gives up. The jobs channel is never closed, so a send parked here
// cannot panic when Shutdown runs concurrently.
func (ing *Ingestor) enqueue(ctx context.Context, id string) error {
	select {
	case ing.jobs <- id:
		return nil
	case <-ing.quit:
		return ErrIngestorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting documents and waits for in-flight embeddings.
func (ing *Ingestor) Shutdown(ctx context.Context) error {
	ing.mu.Lock()
	if !ing.closed {
		ing.closed = true
		close(ing.quit)
	}
	ing.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ing.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (ing *Ingestor) runWorker() {
	defer ing.wg.Done()
	for {
		select {
		case id := <-ing.jobs:
			ing.process(id)
		case <-ing.quit:
			// Drain whatever was queued before shutdown, then exit.
			for {
				select {
				case id := <-ing.jobs:
					ing.process(id)
				default:
					return
				}
			}
		}
	}
}

func (ing *Ingestor) process(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doc, err := ing.store.Get(ctx, id)
	if err != nil {
		ing.logger.Error("failed to load document for indexing", "document_id", id, "error", err)
		return
	}

	vectors, err := ing.embedder.Embed(ctx, []string{doc.Content})
	if err != nil || len(vectors) == 0 {
		if err == nil {
			err = errors.New("knowledge: embedding response was empty")
		}
		ing.logger.Error("embedding failed", "document_id", id, "error", err)
		if markErr := ing.store.MarkFailed(ctx, id); markErr != nil {
			ing.logger.Error("failed to mark document failed", "document_id", id, "error", markErr)
		}
		return
	}

	if err := ing.store.MarkIndexed(ctx, id, vectors[0], time.Now().UTC()); err != nil {
		ing.logger.Error("failed to mark document indexed", "document_id", id, "error", err)
		return
	}
	ing.logger.Debug("document indexed", "document_id", id)
}
