package utils

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts a CamelCase operation name to snake_case, e.g. "BroadcastInDim" to "broadcast_in_dim".
// Acronyms are not special cased: "RSqrt" becomes "r_sqrt".
func ToSnakeCase(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				sb.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
