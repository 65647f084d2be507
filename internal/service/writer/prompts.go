package writer

import (
	"fmt"
	"strings"

	"github.com/hivewriter/content-motor/internal/domain"
)

// blockStyles is the tone instruction injected per section.
var blockStyles = map[domain.BlockRole]string{
	domain.BlockIntro:       "periodístico y enganchador con una anécdota personal",
	domain.BlockExplanation: "técnico pero conversacional y fácil de entender",
	domain.BlockAnalysis:    "opinativo y analítico con ejemplos concretos",
	domain.BlockConclusion:  "práctico y reflexivo con una llamada a la acción o pensamiento final",
}

const defaultStyle = "conversacional"

// blockPrompts are the base templates per section; {style} and {topic}
// are substituted at generation time.
var blockPrompts = map[domain.BlockRole]string{
	domain.BlockIntro:       "Genera una introducción de aproximadamente 200 palabras. Comienza con una anécdota personal o una pregunta intrigante para captar la atención del lector. El tono debe ser {style}. El tema es: {topic}",
	domain.BlockExplanation: "Desarrolla una explicación técnica del tema de aproximadamente 200 palabras, utilizando un lenguaje {style}. Asegúrate de que sea accesible para un público general. El tema es: {topic}",
	domain.BlockAnalysis:    "Proporciona una opinión y análisis del tema de aproximadamente 200 palabras, respaldado con ejemplos concretos. El tono debe ser {style}. El tema es: {topic}",
	domain.BlockConclusion:  "Escribe una conclusión de aproximadamente 200 palabras que resuma los puntos clave y ofrezca una perspectiva práctica o una llamada a la reflexión. El tono debe ser {style}. El tema es: {topic}",
}

// blockPrompt renders the base prompt for a role and topic.
func blockPrompt(role domain.BlockRole, topic string) string {
	style, ok := blockStyles[role]
	if !ok {
		style = defaultStyle
	}
	tpl, ok := blockPrompts[role]
	if !ok {
		tpl = blockPrompts[domain.BlockExplanation]
	}
	out := strings.ReplaceAll(tpl, "{style}", style)
	return strings.ReplaceAll(out, "{topic}", topic)
}

// alternativePrompt escalates the rewrite instruction per retry attempt.
// Attempt 1 and 2 each have their own instruction; every later attempt
// reuses the third.
func alternativePrompt(original string, attempt int) string {
	switch attempt {
	case 1:
		return "Reescribe el siguiente contenido con un estilo más conversacional y humano, evitando frases robóticas: " + original
	case 2:
		return "Genera un bloque de contenido muy creativo y original sobre el tema, con un enfoque fresco y personal: " + original
	default:
		return "Intenta generar el contenido de nuevo, enfocándote en la fluidez y naturalidad del lenguaje: " + original
	}
}

// salvagePrompt is the generic, low-bar prompt of the salvage pass.
func salvagePrompt(topic string, role domain.BlockRole, wordCount int) string {
	return fmt.Sprintf("Genera un bloque de contenido genérico sobre '%s' para la sección de %s. Asegúrate de que tenga al menos %d palabras.", topic, role, wordCount)
}
