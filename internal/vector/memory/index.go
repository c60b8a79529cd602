// Package memory is an in-process review index backed by chromem-go, used for
// development and tests. With a persist path it survives restarts.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/vector"
	"github.com/reco-agent/backend/pkg/logger"
)

const (
	metaProduct = "product_id"
	metaStore   = "store_id"
)

var errNoEmbedding = errors.New("memory index requires precomputed embeddings")

type Index struct {
	mu  sync.RWMutex
	db  *chromem.DB
	col *chromem.Collection
}

// New opens the index. An empty persistPath keeps everything in memory.
func New(collectionName, persistPath string) (*Index, error) {
	var db *chromem.DB
	if persistPath == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(persistPath, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create index dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open index: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	logger.Info("In-memory vector index initialized",
		zap.String("collection", collectionName),
		zap.Bool("persistent", persistPath != ""),
		zap.Int("documents", col.Count()),
	)

	return &Index{db: db, col: col}, nil
}

// Text is never embedded here; callers always pass vectors.
func refuseEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errNoEmbedding
}

func (i *Index) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %s: %w", d.ID, errNoEmbedding)
		}
		err := i.col.AddDocument(ctx, chromem.Document{
			ID:        d.ID,
			Embedding: d.Embedding,
			Metadata: map[string]string{
				metaProduct: d.ProductID,
				metaStore:   d.StoreID,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to add document %s: %w", d.ID, err)
		}
	}

	logger.Debug("Documents indexed", zap.Int("count", len(docs)))
	return nil
}

func (i *Index) Search(ctx context.Context, embedding []float32, k int, filter vector.Filter) ([]vector.Hit, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	n := min(k, i.col.Count())
	if n <= 0 {
		return nil, nil
	}

	var where map[string]string
	if filter.ProductID != "" || filter.StoreID != "" {
		where = map[string]string{}
		if filter.ProductID != "" {
			where[metaProduct] = filter.ProductID
		}
		if filter.StoreID != "" {
			where[metaStore] = filter.StoreID
		}
	}

	// chromem narrows n to the filtered set itself
	results, err := i.col.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vector.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, vector.Hit{ID: r.ID, Score: r.Similarity})
	}
	return hits, nil
}

func (i *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.col.Count()
}

func (i *Index) Close() error { return nil }
