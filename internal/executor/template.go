package executor

import (
	"regexp"
	"strings"

	"github.com/Rrens/flowbot/internal/domain"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_$][\w$]*(?:\.[\w$]+)*)\s*\}\}`)

var templateRoots = []string{"stateData.", "state.", "context.", "vars."}

// Render replaces {{path}} placeholders with state values. Unknown paths render empty.
func Render(text string, state domain.StateData) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		path := placeholder.FindStringSubmatch(m)[1]
		for _, root := range templateRoots {
			if strings.HasPrefix(path, root) {
				path = strings.TrimPrefix(path, root)
				break
			}
		}
		v, ok := state.Lookup(path)
		if !ok {
			return ""
		}
		return domain.Stringify(v)
	})
}
