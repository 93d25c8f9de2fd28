// Package sid implements the symbolic identifier ("type:name") codec used
// to address wiki documents.
package sid

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DocType is the discriminator of a wiki document.
type DocType string

const (
	TypeArticle   DocType = "article"
	TypeNamespace DocType = "namespace"
	TypeUser      DocType = "user"
	TypeGroup     DocType = "group"
	TypeACL       DocType = "acl"
)

// Order lists the allowed types in display/sort priority, highest first.
// Unknown types sort as articles.
var Order = []DocType{TypeNamespace, TypeArticle, TypeGroup, TypeUser, TypeACL}

func rankOf(t DocType) int {
	for i, o := range Order {
		if o == t {
			return i
		}
	}
	return rankOf(TypeArticle)
}

func isAllowed(t string) bool {
	for _, o := range Order {
		if string(o) == t {
			return true
		}
	}
	return false
}

// NormalizeType lower-cases and trims a raw type string and checks it against
// the allowed set. The second result is false for unknown types.
func NormalizeType(raw string) (DocType, bool) {
	t := strings.ToLower(strings.TrimSpace(raw))
	if !isAllowed(t) {
		return "", false
	}
	return DocType(t), true
}

// Parse splits a SID on its first colon. It does not validate the type part;
// callers that need strict validation combine this with NormalizeType.
// The second result is false when there is no colon or the name is empty
// after trimming.
func Parse(s string) (typ string, name string, ok bool) {
	i := strings.Index(s, ":")
	if i < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(s[i+1:])
	if name == "" {
		return "", "", false
	}
	return s[:i], name, true
}

// TypeOf extracts the type prefix of a SID, falling back to article for
// unknown or missing prefixes.
func TypeOf(s string) DocType {
	t, _, _ := strings.Cut(s, ":")
	if isAllowed(t) {
		return DocType(t)
	}
	return TypeArticle
}

// NameOf returns the name part of a SID, or the input unchanged when there is
// no colon.
func NameOf(s string) string {
	if i := strings.Index(s, ":"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Build combines a type and a name into a SID. When name already carries a
// "type:" prefix that prefix wins and is validated instead. Returns "" and
// false for empty names or unrecognized types.
func Build(typ, name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}
	if i := strings.Index(trimmed, ":"); i >= 0 {
		prefix, rest := trimmed[:i], trimmed[i+1:]
		if rest == "" || !isAllowed(prefix) {
			return "", false
		}
		return trimmed, true
	}
	t := strings.TrimSpace(typ)
	if !isAllowed(t) {
		return "", false
	}
	return t + ":" + trimmed, true
}

// ValidName reports whether a document name is storable: non-empty after
// trimming and free of ':' and ';'.
func ValidName(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	return !strings.ContainsAny(name, ":;")
}

// DisplayName strips the implicit "article:" prefix only; every other type
// keeps its prefix in list views.
func DisplayName(s string) string {
	return strings.TrimPrefix(s, "article:")
}

// FromPath turns a URL path segment into a canonical SID: NFC normalization,
// trimming, and an implicit article type for bare names. Percent-decoding is
// the HTTP layer's job.
func FromPath(raw string) string {
	s := strings.TrimSpace(norm.NFC.String(raw))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, ":") {
		return "article:" + s
	}
	return s
}

// Compare orders SIDs for list views: by type rank first, then
// case-insensitively by display name.
func Compare(a, b string) int {
	ra, rb := rankOf(TypeOf(a)), rankOf(TypeOf(b))
	if ra != rb {
		return ra - rb
	}
	da := strings.ToLower(DisplayName(a))
	db := strings.ToLower(DisplayName(b))
	return strings.Compare(da, db)
}

// Sort returns a new slice sorted with Compare.
func Sort(sids []string) []string {
	out := append([]string(nil), sids...)
	sort.SliceStable(out, func(i, j int) bool { return Compare(out[i], out[j]) < 0 })
	return out
}
