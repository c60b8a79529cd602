package zilliz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reco-agent/backend/internal/vector"
)

func TestFilterExpr(t *testing.T) {
	tests := []struct {
		name   string
		filter vector.Filter
		want   string
	}{
		{"none", vector.Filter{}, ""},
		{"product", vector.Filter{ProductID: "bodysuit"}, `product_id == "bodysuit"`},
		{"both", vector.Filter{ProductID: "p1", StoreID: "shop.myshopify.com"}, `product_id == "p1" && store_id == "shop.myshopify.com"`},
		{"escapes quotes", vector.Filter{ProductID: `a"b`}, `product_id == "a\"b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, filterExpr(tt.filter))
		})
	}
}
