package neo4j

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThemeStat(t *testing.T) {
	tests := []struct {
		name   string
		in     [3]interface{}
		want   ThemeStat
		wantOK bool
	}{
		{"driver types", [3]interface{}{"waistband", int64(4), 4.25}, ThemeStat{"waistband", 4, 4.25}, true},
		{"integer average", [3]interface{}{"fabric", int64(2), int64(5)}, ThemeStat{"fabric", 2, 5}, true},
		{"null average", [3]interface{}{"seams", int64(1), nil}, ThemeStat{"seams", 1, 0}, true},
		{"missing name", [3]interface{}{nil, int64(3), 4.0}, ThemeStat{}, false},
		{"empty name", [3]interface{}{"", int64(3), 4.0}, ThemeStat{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := themeStat(tt.in[0], tt.in[1], tt.in[2])
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
