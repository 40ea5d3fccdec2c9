// browser/dom/xpath.go
package dom

import (
	"fmt"
	"strings"
)

const (
	upperASCII = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerASCII = "abcdefghijklmnopqrstuvwxyz"
)

// Literal renders s as an XPath 1.0 string literal. XPath has no escape
// sequences, so a value containing both quote kinds is built with concat().
func Literal(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if p != "" {
			quoted = append(quoted, "'"+p+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// Lower wraps an XPath expression so ASCII letters compare case-insensitively.
func Lower(expr string) string {
	return fmt.Sprintf("translate(%s, '%s', '%s')", expr, upperASCII, lowerASCII)
}

// TextContains matches nodes whose normalized text contains s.
func TextContains(s string) string {
	return fmt.Sprintf("contains(normalize-space(.), %s)", Literal(s))
}

// AttrContains matches nodes whose attribute contains s.
func AttrContains(attr, s string) string {
	return fmt.Sprintf("contains(@%s, %s)", attr, Literal(s))
}

// AttrContainsFold is AttrContains ignoring ASCII case.
func AttrContainsFold(attr, s string) string {
	return fmt.Sprintf("contains(%s, %s)", Lower("@"+attr), Literal(strings.ToLower(s)))
}

// AttrEquals matches nodes whose attribute equals s exactly.
func AttrEquals(attr, s string) string {
	return fmt.Sprintf("@%s=%s", attr, Literal(s))
}

// AnyOf joins predicates with "or".
func AnyOf(preds ...string) string {
	return "(" + strings.Join(preds, " or ") + ")"
}

// AllOf joins predicates with "and".
func AllOf(preds ...string) string {
	return "(" + strings.Join(preds, " and ") + ")"
}
