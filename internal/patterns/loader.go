package patterns

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/plumbrhq/plumbr/internal/logger"
)

// Build assembles a rule set: built-in defaults (filtered by compliance
// profiles), then the rule file, then every rule file in the directory in
// lexicographic order. Later rules with a known name replace the earlier
// rule in place; new names append.
func Build(opts LoadOptions, log *logger.Logger) (*Set, error) {
	set := newSet()

	if !opts.NoDefaults {
		keep, err := profileFilter(opts.Compliance)
		if err != nil {
			return nil, err
		}
		for _, r := range defaultRules() {
			if keep != nil && !keep[r.Category] {
				continue
			}
			set.add(r)
		}
	}

	if opts.File != "" {
		if err := loadFile(set, opts.File, log); err != nil {
			return nil, err
		}
	}

	if opts.Dir != "" {
		if err := loadDir(set, opts.Dir, log); err != nil {
			return nil, err
		}
	}

	dropUnstable(set, log)

	if set.Len() == 0 {
		return nil, fmt.Errorf("no active patterns")
	}

	log.Debug("Pattern set built", zap.Int("patterns", set.Len()))
	return set, nil
}

// loadFile parses one rule file. Lines are name|category|regex|replacement;
// blank lines and # comments are skipped. A malformed line is skipped with a
// warning; an unreadable file is a hard error.
func loadFile(set *Set, path string, log *logger.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return &LoadError{Source: path, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rule, reason := parseRule(line)
		if reason != "" {
			log.Warn("Skipping invalid pattern line",
				zap.String("file", filepath.Base(path)),
				zap.Int("line", lineNo),
				zap.String("reason", reason),
			)
			continue
		}
		set.add(rule)
	}

	if err := scanner.Err(); err != nil {
		return &LoadError{Source: path, Err: err}
	}
	return nil
}

// loadDir loads every regular file in dir, lexicographic, skipping
// subdirectories and dotfiles.
func loadDir(set *Set, dir string, log *logger.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &LoadError{Source: dir, Err: err}
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if err := loadFile(set, filepath.Join(dir, entry.Name()), log); err != nil {
			return err
		}
	}
	return nil
}

// parseRule parses one rule line. The returned reason is empty on success.
func parseRule(line string) (Rule, string) {
	fields := strings.Split(line, "|")
	if len(fields) != 4 {
		return Rule{}, "expected name|category|regex|replacement"
	}

	name := strings.TrimSpace(fields[0])
	category := strings.TrimSpace(fields[1])
	expr := strings.TrimSpace(fields[2])
	replacement := strings.TrimSpace(fields[3])

	if name == "" {
		return Rule{}, "missing name"
	}
	if expr == "" {
		return Rule{}, "missing regex"
	}
	if category == "" {
		category = name
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Sprintf("bad regex: %v", err)
	}

	if replacement == "" {
		replacement = defaultReplacement(category)
	}

	return Rule{
		Name:        name,
		Category:    category,
		Pattern:     re,
		Replacement: replacement,
	}, ""
}

// dropUnstable removes custom rules that break single-pass stability: a rule
// whose replacement is matched by any rule in the set, or whose pattern
// matches any replacement in the set, would make redacted output re-match on
// a second pass. Built-ins are mutually stable and are never dropped.
func dropUnstable(set *Set, log *logger.Logger) {
	for {
		victim := -1
		reason := ""

	scan:
		for i, r := range set.rules {
			if r.builtin {
				continue
			}
			for _, other := range set.rules {
				if other.Pattern.MatchString(r.Replacement) {
					victim = i
					reason = "replacement re-matched by " + other.Name
					break scan
				}
				if r.Pattern.MatchString(other.Replacement) {
					victim = i
					reason = "pattern matches replacement of " + other.Name
					break scan
				}
			}
		}

		if victim < 0 {
			return
		}
		log.Warn("Dropping unstable pattern",
			zap.String("name", set.rules[victim].Name),
			zap.String("reason", reason),
		)
		set.remove(victim)
	}
}
