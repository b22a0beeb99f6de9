package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// TagFilter is one "tags.<name>='<value>'" predicate.
type TagFilter struct {
	Name  string
	Value string
}

var valueEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func (f TagFilter) String() string {
	return fmt.Sprintf("tags.%s='%s'", f.Name, valueEscaper.Replace(f.Value))
}

// Matches reports whether the run satisfies the predicate.
func (f TagFilter) Matches(run Run) bool {
	return run.HasTag(f.Name, f.Value)
}

var (
	tagClauseRe = regexp.MustCompile(`^tags\.(?:([A-Za-z0-9_.\-]+)|` + "`([^`]+)`" + `)\s*=\s*'((?:[^'\\]|\\.)*)'$`)
	andSplitRe  = regexp.MustCompile(`(?i)\s+and\s+`)
)

// FormatFilter renders a conjunction of tag predicates in registry filter syntax.
func FormatFilter(filters ...TagFilter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, " and ")
}

// ParseFilter parses a conjunction of "tags.<name>='<value>'" clauses.
// An empty expression matches every run.
func ParseFilter(expr string) ([]TagFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	clauses := andSplitRe.Split(expr, -1)
	out := make([]TagFilter, 0, len(clauses))
	for _, clause := range clauses {
		m := tagClauseRe.FindStringSubmatch(strings.TrimSpace(clause))
		if m == nil {
			return nil, fmt.Errorf("unsupported filter clause %q", clause)
		}
		name := m[1]
		if name == "" {
			name = m[2]
		}
		out = append(out, TagFilter{Name: name, Value: unescapeValue(m[3])})
	}
	return out, nil
}

// unescapeValue drops the backslash of every escape pair in a quoted value.
func unescapeValue(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			i++
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

// MatchesAll reports whether the run satisfies every predicate.
func MatchesAll(run Run, filters []TagFilter) bool {
	for _, f := range filters {
		if !f.Matches(run) {
			return false
		}
	}
	return true
}
