package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShiftJISToUTF8(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"ascii passthrough", "title=Test", "title=Test"},
		{"katakana", "\x83\x65\x83\x58\x83\x67", "テスト"},
		{"hiragana", "\x82\xA0\x82\xA2", "あい"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ShiftJISToUTF8(tt.input)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
