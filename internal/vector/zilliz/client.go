package zilliz

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/internal/vector"
	"github.com/reco-agent/backend/pkg/config"
	"github.com/reco-agent/backend/pkg/logger"
)

const (
	fieldID        = "review_id"
	fieldProduct   = "product_id"
	fieldStore     = "store_id"
	fieldEmbedding = "embedding"
)

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(ctx context.Context, cfg config.VectorConfig) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Endpoint,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("collection", cfg.CollectionName),
	)

	return &Client{
		client:         c,
		collectionName: cfg.CollectionName,
		vectorDim:      cfg.Dim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

// CreateCollection creates and loads the review collection if it does not exist yet.
func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Product review embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       fieldProduct,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "256"},
			},
			{
				Name:       fieldStore,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "256"},
			},
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(z.vectorDim)},
			},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))
	return nil
}

func (z *Client) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	ids := make([]string, len(docs))
	products := make([]string, len(docs))
	stores := make([]string, len(docs))
	embeddings := make([][]float32, len(docs))

	for i, d := range docs {
		if len(d.Embedding) != z.vectorDim {
			return fmt.Errorf("document %s: embedding dimension %d, want %d", d.ID, len(d.Embedding), z.vectorDim)
		}
		ids[i] = d.ID
		products[i] = d.ProductID
		stores[i] = d.StoreID
		embeddings[i] = d.Embedding
	}

	_, err := z.client.Upsert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnVarChar(fieldProduct, products),
		entity.NewColumnVarChar(fieldStore, stores),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, embeddings),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reviews: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Reviews upserted into vector DB", zap.Int("count", len(docs)))
	return nil
}

func (z *Client) Search(ctx context.Context, embedding []float32, k int, filter vector.Filter) ([]vector.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	expr := filterExpr(filter)
	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		expr,
		[]string{fieldID},
		[]entity.Vector{entity.FloatVector(embedding)},
		fieldEmbedding,
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vector.Hit, 0, k)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn(fieldID)
		if idCol == nil {
			continue
		}
		for i := 0; i < sr.ResultCount; i++ {
			id, err := idCol.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read result id: %w", err)
			}
			hits = append(hits, vector.Hit{ID: id, Score: sr.Scores[i]})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("k", k),
		zap.Int("results", len(hits)),
		zap.String("filter", expr),
	)
	return hits, nil
}

func (z *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	expr := fmt.Sprintf("%s in [%s]", fieldID, strings.Join(quoted, ","))

	if err := z.client.Delete(ctx, z.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete reviews: %w", err)
	}
	return nil
}

// filterExpr renders a boolean expression restricting product and store by equality.
func filterExpr(f vector.Filter) string {
	var conds []string
	if f.ProductID != "" {
		conds = append(conds, fmt.Sprintf("%s == %s", fieldProduct, strconv.Quote(f.ProductID)))
	}
	if f.StoreID != "" {
		conds = append(conds, fmt.Sprintf("%s == %s", fieldStore, strconv.Quote(f.StoreID)))
	}
	return strings.Join(conds, " && ")
}
