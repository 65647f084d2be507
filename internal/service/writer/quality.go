package writer

import (
	"regexp"
	"strings"
)

// The robotic-text gate is a three step, order sensitive filter:
//
//  1. stock essay-filler phrases -> robotic, stop
//  2. enthusiastic/conversational markers -> not robotic, stop
//  3. sentence statistics -> robotic when degenerate
//
// Step 2 deliberately short-circuits step 3: conversational tone is
// trusted as a strong signal even when the sentence stats would flag the
// text. Precision over recall.

var roboticPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)En el ámbito de`),
	regexp.MustCompile(`(?i)Es importante destacar que`),
	regexp.MustCompile(`(?i)En la actualidad,`),
	regexp.MustCompile(`(?i)Cabe señalar que`),
	regexp.MustCompile(`(?i)La finalidad de este documento`),
	regexp.MustCompile(`(?i)Se ha demostrado que`),
	regexp.MustCompile(`(?i)Por consiguiente,`),
	regexp.MustCompile(`(?i)En resumen,`),
	regexp.MustCompile(`(?i)En conclusión,`),
}

var conversationalMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Wow`),
	regexp.MustCompile(`(?i)increíble`),
	regexp.MustCompile(`(?i)fantástico`),
	regexp.MustCompile(`(?i)sorprendente`),
	regexp.MustCompile(`(?i)genial`),
	regexp.MustCompile(`(?i)imagina esto`),
	regexp.MustCompile(`(?i)piensa en`),
	regexp.MustCompile(`(?i)te encantará`),
	regexp.MustCompile(`(?i)descubre cómo`),
}

var sentenceSplit = regexp.MustCompile(`[.!?]`)

// IsRobotic classifies text as formulaic/non-human-sounding.
func IsRobotic(text string) bool {
	for _, p := range roboticPatterns {
		if p.MatchString(text) {
			return true
		}
	}

	for _, m := range conversationalMarkers {
		if m.MatchString(text) {
			return false
		}
	}

	var sentences []string
	for _, s := range sentenceSplit.Split(text, -1) {
		s = strings.TrimSpace(s)
		if len(strings.Fields(s)) > 3 {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		// Empty or purely fragmented text reads as robotic.
		return true
	}

	totalWords := 0
	for _, s := range sentences {
		totalWords += len(strings.Fields(s))
	}
	mean := float64(totalWords) / float64(len(sentences))
	return mean < 5 || mean > 40
}
