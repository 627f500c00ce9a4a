package schema

import (
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidTableName reports whether name can be used as a table or view name.
func ValidTableName(name string) bool {
	return identifierPattern.MatchString(name)
}

// ValidIdentifier reports whether name is safe to emit without quoting.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// QuoteIdent renders a case-sensitive identifier, doubling embedded quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func QuoteIdents(names []string) []string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = QuoteIdent(name)
	}
	return quoted
}

// StringConstant renders a string literal, doubling embedded single quotes.
func StringConstant(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// stripIdent removes quotes and whitespace from an identifier or index target
// expression.
func stripIdent(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '"', ' ', '\t', '\n':
			return -1
		}
		return r
	}, s)
}
