package patterns

import (
	"fmt"
	"regexp"
)

// defaultRules returns the built-in rule set in priority order. Every
// replacement here is non-rematchable by every expression here, so a single
// redaction pass is always a fixed point. phone sits last so credit_card and
// ssn win same-offset ties on digit runs.
func defaultRules() []Rule {
	build := func(name, expr string) Rule {
		return Rule{
			Name:        name,
			Category:    name,
			Pattern:     regexp.MustCompile(expr),
			Replacement: defaultReplacement(name),
			builtin:     true,
		}
	}

	return []Rule{
		build("aws_access_key", `AKIA[0-9A-Z]{16}`),
		build("aws_secret_key", `[A-Za-z0-9/+=]{40}`),
		build("github_token", `ghp_[A-Za-z0-9]{36}`),
		build("github_oauth", `gho_[A-Za-z0-9]{36}`),
		build("api_key", `api[_-]?key["'\s:=]+[A-Za-z0-9_-]{4,}`),
		build("generic_secret", `secret["'\s:=]+[A-Za-z0-9_-]{8,}`),
		build("password", `password["'\s:=]+[^\s"']{4,}`),
		build("private_key", `-----BEGIN[A-Z ]+PRIVATE KEY-----`),
		build("jwt", `eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
		build("slack_token", `xox[baprs]-[0-9A-Za-z-]{10,}`),
		build("credit_card", `\b[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}\b`),
		build("email", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
		build("ipv4", `\b[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\b`),
		build("ssn", `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`),
		build("phone", `(?:\+?[0-9]{1,3}[-. ])?\(?[0-9]{3}\)?[-. ][0-9]{3}[-. ][0-9]{4}\b`),
	}
}

// profiles maps compliance profile names to the built-in categories they
// keep active.
var profiles = map[string][]string{
	"hipaa": {"ssn", "email", "phone", "ipv4", "credit_card"},
	"pci":   {"credit_card", "password", "api_key", "generic_secret"},
	"gdpr":  {"email", "phone", "ipv4", "ssn"},
	"soc2": {
		"aws_access_key", "aws_secret_key", "github_token", "github_oauth",
		"api_key", "generic_secret", "password", "private_key", "jwt",
		"slack_token",
	},
}

// Profiles returns the known compliance profile names.
func Profiles() []string {
	return []string{"hipaa", "pci", "gdpr", "soc2", "all"}
}

// profileFilter resolves a compliance list to the set of built-in categories
// to keep. A nil result means no filtering.
func profileFilter(names []string) (map[string]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}

	all := false
	keep := make(map[string]bool)
	for _, name := range names {
		if name == "all" {
			all = true
			continue
		}
		categories, ok := profiles[name]
		if !ok {
			return nil, fmt.Errorf("unknown compliance profile: %s (available: hipaa, pci, gdpr, soc2, all)", name)
		}
		for _, c := range categories {
			keep[c] = true
		}
	}
	if all {
		return nil, nil
	}
	return keep, nil
}
