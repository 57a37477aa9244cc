package utils

import "strings"

func isIdentifierRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// NormalizeIdentifier makes name usable as a StableHLO symbol (module, function or parameter name):
// every rune other than ASCII letters, digits and '_' becomes '_', and a leading digit gets a '_' prefix.
func NormalizeIdentifier(name string) string {
	normalized := strings.Map(func(r rune) rune {
		if isIdentifierRune(r) {
			return r
		}
		return '_'
	}, name)
	if normalized != "" && normalized[0] >= '0' && normalized[0] <= '9' {
		normalized = "_" + normalized
	}
	return normalized
}
