package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Runs   SMALL!! ", "runs small"},
		{"Love it.\nSo comfy", "love it so comfy"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestHashStringStable(t *testing.T) {
	assert.Equal(t, HashString("abc"), HashString("abc"))
	assert.NotEqual(t, HashString("abc"), HashString("abd"))
	assert.Len(t, HashString("abc"), 32)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc…", Truncate("abcdef", 3))
	assert.Equal(t, "héé…", Truncate("hééllo", 3))
}
