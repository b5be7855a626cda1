package engine

import (
	"strings"

	"github.com/plumbrhq/plumbr/internal/patterns"
)

// redactLine runs one line through the scanner and splices each matched span
// with its rule's replacement. Returns the rewritten line and the match
// count; a clean line comes back as the same string.
func redactLine(line string, rules []patterns.Rule) (string, int) {
	matches := scan(line, rules)
	if len(matches) == 0 {
		return line, 0
	}

	var b strings.Builder
	b.Grow(len(line))
	last := 0
	for _, m := range matches {
		b.WriteString(line[last:m.start])
		b.WriteString(rules[m.rule].Replacement)
		last = m.end
	}
	b.WriteString(line[last:])
	return b.String(), len(matches)
}
