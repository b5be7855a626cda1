package engine

import (
	"regexp"

	"github.com/plumbrhq/plumbr/internal/patterns"
)

// match is one accepted hit: rule index plus byte span within the line.
type match struct {
	rule  int
	start int
	end   int
}

// candidate is a rule's cached next match at or after the scan cursor.
type candidate struct {
	start int
	end   int
	ok    bool
}

// scan finds the non-overlapping matches for one line. The candidate with
// the smallest start offset is accepted, ties going to the earlier rule, and
// scanning resumes at its end: any rule whose cached candidate falls behind
// the cursor is searched again from there, so a rule overlapped by an
// accepted span still gets its later matches. Searches past the cursor run
// on the line tail, so a leading boundary assertion treats the resume point
// as line start. Zero-width candidates are never accepted.
func scan(line string, rules []patterns.Rule) []match {
	if line == "" {
		return nil
	}

	next := make([]candidate, len(rules))
	for i := range rules {
		next[i] = nextMatch(rules[i].Pattern, line, 0)
	}

	var accepted []match
	cursor := 0
	for {
		best := -1
		for i := range next {
			if next[i].ok && next[i].start < cursor {
				next[i] = nextMatch(rules[i].Pattern, line, cursor)
			}
			if !next[i].ok {
				continue
			}
			if best == -1 || next[i].start < next[best].start {
				best = i
			}
		}
		if best == -1 {
			return accepted
		}
		accepted = append(accepted, match{rule: best, start: next[best].start, end: next[best].end})
		cursor = next[best].end
	}
}

// nextMatch returns re's first non-zero-width match at or after from. A
// zero-width hit advances one byte and retries.
func nextMatch(re *regexp.Regexp, line string, from int) candidate {
	for from <= len(line) {
		loc := re.FindStringIndex(line[from:])
		if loc == nil {
			break
		}
		if loc[1] > loc[0] {
			return candidate{start: from + loc[0], end: from + loc[1], ok: true}
		}
		from += loc[0] + 1
	}
	return candidate{}
}
