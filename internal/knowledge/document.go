package knowledge

import "time"

// Status tracks a document through the indexing pipeline.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusIndexed  Status = "INDEXED"
	StatusFailed   Status = "FAILED"
	StatusArchived Status = "ARCHIVED"
)

// Document is one indexed unit of reference text used to ground answers.
// The embedding is populated asynchronously by the ingestion pipeline and is
// only present once the document reaches INDEXED.
type Document struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	DocType     string     `json:"doc_type"`
	Source      string     `json:"source"`
	Tags        []string   `json:"tags,omitempty"`
	Status      Status     `json:"status"`
	Embedding   []float32  `json:"-"`
	IndexedAt   *time.Time `json:"indexed_at,omitempty"`
	LastUpdated time.Time  `json:"last_updated"`
}

// RelevantDocument pairs a document with its relevance score for one query.
type RelevantDocument struct {
	Document Document
	Score    float64
}
