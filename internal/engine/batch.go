package engine

import (
	"sync"

	"github.com/plumbrhq/plumbr/internal/patterns"
)

// redactSlice redacts lines[i] into out[i] using up to threads workers and
// returns the summed per-line results. out must be at least as long as
// lines. Output order always matches input order: workers own contiguous
// index ranges and write results by index.
func redactSlice(lines, out []string, rules []patterns.Rule, threads int) delta {
	if len(lines) == 0 {
		return delta{}
	}

	workers := threads
	if workers > len(lines) {
		workers = len(lines)
	}
	if workers <= 1 {
		return redactRange(lines, out, rules, 0, len(lines))
	}

	groups := partition(lines, workers)
	deltas := make([]delta, len(groups))

	var wg sync.WaitGroup
	for gi, g := range groups {
		wg.Add(1)
		go func(gi, start, end int) {
			defer wg.Done()
			deltas[gi] = redactRange(lines, out, rules, start, end)
		}(gi, g[0], g[1])
	}
	wg.Wait()

	var total delta
	for _, d := range deltas {
		total.merge(d)
	}
	return total
}

// redactRange processes lines[start:end] sequentially.
func redactRange(lines, out []string, rules []patterns.Rule, start, end int) delta {
	var d delta
	for i := start; i < end; i++ {
		res, k := redactLine(lines[i], rules)
		out[i] = res
		d.lines++
		d.matched += uint64(k)
		if res != lines[i] {
			d.modified++
		}
	}
	return d
}

// partition splits the index space into at most n contiguous groups of
// near-equal total byte size. Every group gets at least one line; a line is
// never split across groups.
func partition(lines []string, n int) [][2]int {
	if n <= 1 || len(lines) <= 1 {
		return [][2]int{{0, len(lines)}}
	}
	if n > len(lines) {
		n = len(lines)
	}

	total := 0
	for _, l := range lines {
		total += len(l) + 1 // weight the separator so empty lines still count
	}

	groups := make([][2]int, 0, n)
	start, acc := 0, 0
	for i, l := range lines {
		acc += len(l) + 1
		needed := n - (len(groups) + 1) // groups still to open after this one
		if needed == 0 {
			break // last group takes the rest
		}
		remaining := len(lines) - (i + 1)
		target := total * (len(groups) + 1) / n
		if acc >= target || remaining == needed {
			groups = append(groups, [2]int{start, i + 1})
			start = i + 1
		}
	}
	groups = append(groups, [2]int{start, len(lines)})
	return groups
}
