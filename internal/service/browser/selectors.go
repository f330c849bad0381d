package browser

import (
	"fmt"
	"strings"

	"OtcPull/internal/domain/models"
)

// Selector is one way of finding a trade button.
type Selector struct {
	Strategy string
	XPath    string
}

var (
	upLabels   = []string{"UP", "Arriba", "Subir"}
	downLabels = []string{"DOWN", "Abajo", "Bajo"}

	upClasses   = []string{"call-btn", "call", "up", "green"}
	downClasses = []string{"put-btn", "put", "down", "red"}
)

// ButtonSelectors lists the ways to find the button for dir, in the order
// they are tried: visible label, semantic class, then position.
func ButtonSelectors(dir models.Direction) []Selector {
	labels, classes := upLabels, upClasses
	if dir == models.Down {
		labels, classes = downLabels, downClasses
	}

	out := make([]Selector, 0, len(labels)+len(classes)+2)
	for _, l := range labels {
		out = append(out, Selector{
			Strategy: "label",
			XPath:    fmt.Sprintf("//button[contains(normalize-space(.), %s)]", xpathLiteral(l)),
		})
	}
	for _, c := range classes {
		out = append(out, Selector{
			Strategy: "class",
			XPath:    fmt.Sprintf("//button[contains(@class, %s) and not(contains(@class, 'input'))]", xpathLiteral(c)),
		})
	}
	if dir == models.Down {
		out = append(out,
			Selector{Strategy: "position", XPath: "(//button[contains(@class, 'btn')])[2]"},
			Selector{Strategy: "position", XPath: "(//*[@role='button'])[2]"},
		)
	} else {
		out = append(out,
			Selector{Strategy: "position", XPath: "(//button[contains(@class, 'btn')])[1]"},
			Selector{Strategy: "position", XPath: "(//*[@role='button'])[1]"},
		)
	}
	return out
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
