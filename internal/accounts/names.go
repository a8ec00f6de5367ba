// Package accounts maps servicer loan groups to remote ledger accounts. The
// mapping is resolved once during setup, persisted to a JSON file keyed by
// stable account ids, and survives account renames.
package accounts

import (
	"regexp"
	"strings"
)

// DefaultNameTemplate names new manual accounts "<provider>-<group>".
const DefaultNameTemplate = "{provider}-{group}"

var groupTokenRe = regexp.MustCompile(`\b[A-Z0-9]{2,8}\b`)

// NormalizeGroup canonicalizes a loan group code.
func NormalizeGroup(group string) string {
	return strings.ToUpper(strings.TrimSpace(group))
}

// normalizeName folds account display names for fuzzy-ish matching: case
// folded, '-' and '_' treated as spaces, runs of whitespace collapsed.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}

// RenderName fills an account naming template. Templates are user input, so
// unknown placeholders simply pass through.
func RenderName(template, group, provider, providerDisplay string) string {
	tmpl := strings.TrimSpace(template)
	if tmpl == "" {
		tmpl = DefaultNameTemplate
	}

	g := NormalizeGroup(group)
	slug := strings.ToLower(strings.TrimSpace(provider))
	display := strings.TrimSpace(providerDisplay)
	if display == "" {
		display = slug
	}

	out := strings.NewReplacer(
		"{group}", g,
		"{provider}", slug,
		"{provider_upper}", strings.ToUpper(slug),
		"{provider_display}", display,
	).Replace(tmpl)

	if out = strings.TrimSpace(out); out != "" {
		return out
	}
	return slug + "-" + g
}

// CandidateNames returns a prioritized, de-duplicated list of display names a
// group's account might already carry in the remote ledger.
func CandidateNames(template, group, provider, providerDisplay string) []string {
	g := NormalizeGroup(group)
	slug := strings.ToLower(strings.TrimSpace(provider))
	display := strings.TrimSpace(providerDisplay)

	names := []string{
		RenderName(template, g, slug, display),
	}
	if slug != "" {
		names = append(names, slug+"-"+g, strings.ToUpper(slug)+"-"+g)
	}
	if display != "" {
		names = append(names, display+"-"+g)
	}
	names = append(names,
		"Federal-"+g,
		"Federal "+g,
		"Student Loan-"+g,
		"Student Loan "+g,
	)

	out := make([]string, 0, len(names))
	seen := make(map[string]bool)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := normalizeName(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

// NameContainsGroup reports whether a display name contains the loan group as
// a standalone token, e.g. "Federal-AA" or "Student Loan AA" for group AA.
func NameContainsGroup(displayName, group string) bool {
	g := NormalizeGroup(group)
	if g == "" {
		return false
	}
	for _, tok := range groupTokenRe.FindAllString(strings.ToUpper(displayName), -1) {
		if tok == g {
			return true
		}
	}
	return false
}
