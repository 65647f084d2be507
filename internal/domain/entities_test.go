package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	assert.Equal(t, "hola-mundo", Slugify("Hola Mundo"))
	// Non-ASCII runes are dropped rather than transliterated.
	assert.Equal(t, "ia-en-2025-qu-sigue", Slugify("  IA en 2025: ¿qué sigue?  "))
	assert.Equal(t, "a-b-c", Slugify("a - b _ c"))
	assert.Equal(t, "", Slugify("¡¿!?"))
}

func TestWordCountAndReadingTime(t *testing.T) {
	assert.Equal(t, 0, WordCount(""))
	assert.Equal(t, 3, WordCount("uno  dos\ntres"))
	assert.Equal(t, 1, ReadingTime(0))
	assert.Equal(t, 1, ReadingTime(199))
	assert.Equal(t, 4, ReadingTime(800))
}
