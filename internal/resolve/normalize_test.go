package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"plain uppercase", "les petits coeurs", "LES PETITS COEURS"},
		{"accents folded", "Académie de l'Île", "ACADEMIE DE L ILE"},
		{"garderie prefix stripped", "Garderie Les Petits Coeurs", "LES PETITS COEURS"},
		{"cpe prefix stripped", "CPE Soleil Levant", "SOLEIL LEVANT"},
		{"g dot prefix stripped", "G. Les Petits Coeurs", "LES PETITS COEURS"},
		{"stacked prefixes", "BC CPE Au Palais", "AU PALAIS"},
		{"prefix not eaten mid-word", "Garderies du Parc", "GARDERIES DU PARC"},
		{"punctuation removed", "Garderie \"Chez-Nous\", Inc.", "CHEZ NOUS INC"},
		{"ampersand expanded", "Pomme & Carotte", "POMME ET CAROTTE"},
		{"curly apostrophe", "L’Envol", "L ENVOL"},
		{"collapse whitespace", "Le   Petit   Navire", "LE PETIT NAVIRE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestNamesOverlap(t *testing.T) {
	assert.True(t, NamesOverlap("LES PETITS COEURS", "PETITS COEURS"))
	assert.True(t, NamesOverlap("SOLEIL", "SOLEIL"))
	assert.True(t, NamesOverlap("SOLEIL", "GARDERIE DU SOLEIL LEVANT"))
	assert.False(t, NamesOverlap("SOLEIL", "LUNE"))
	assert.False(t, NamesOverlap("", "SOLEIL"))
	assert.False(t, NamesOverlap("SOLEIL", ""))
}
