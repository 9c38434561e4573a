package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "lowercases and trims",
			input: "  UBER TRIP  ",
			want:  "uber trip",
		},
		{
			name:  "strips store number",
			input: "STARBUCKS STORE #1234",
			want:  "starbucks store",
		},
		{
			name:  "strips square processor prefix",
			input: "SQ *BLUE BOTTLE COFFEE",
			want:  "blue bottle coffee",
		},
		{
			name:  "strips toast processor prefix",
			input: "TST* LOCAL DINER",
			want:  "local diner",
		},
		{
			name:  "strips corporate suffix",
			input: "Apple Inc.",
			want:  "apple",
		},
		{
			name:  "strips llc suffix",
			input: "ACME WIDGETS LLC",
			want:  "acme widgets",
		},
		{
			name:  "folds diacritics",
			input: "Café Münchën",
			want:  "cafe munchen",
		},
		{
			name:  "removes long card numbers",
			input: "AMZN MKTP 123456789",
			want:  "amzn mktp",
		},
		{
			name:  "keeps short digits",
			input: "7-ELEVEN 365",
			want:  "7-eleven 365",
		},
		{
			name:  "collapses whitespace",
			input: "WHOLE   FOODS    MARKET",
			want:  "whole foods market",
		},
		{
			name:  "empty input",
			input: "   ",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}
