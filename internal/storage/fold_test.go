package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Émile", "emile"},
		{"ÉMILE", "emile"},
		{"Gödel, Escher, Bach", "godel, escher, bach"},
		{"Ærø", "ærø"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, foldText(tt.in))
		})
	}
	assert.Equal(t, `%50\%\_%`, likePattern("50%_"))
	assert.Equal(t, "%emile%", likePattern("Émile"))
}
