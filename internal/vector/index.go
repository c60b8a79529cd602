// Package vector defines the review similarity index shared by the Milvus and
// in-process implementations.
package vector

import "context"

// Document is one review embedding with the metadata searches can filter on.
type Document struct {
	ID        string
	ProductID string
	StoreID   string
	Embedding []float32
}

// Hit is a search result. Higher scores are closer.
type Hit struct {
	ID    string
	Score float32
}

// Filter restricts a search by equality on product and store. Empty fields match all.
type Filter struct {
	ProductID string
	StoreID   string
}

type Index interface {
	Upsert(ctx context.Context, docs []Document) error
	Search(ctx context.Context, embedding []float32, k int, filter Filter) ([]Hit, error)
	Delete(ctx context.Context, ids []string) error
	Close() error
}
