// Package placeholder finds brace-delimited tokens in text and resolves
// their keys against a record map.
package placeholder

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey folds a key for fuzzy comparison: compatibility forms are
// folded (full-width letters become ASCII), everything except ASCII letters,
// ASCII digits and Han ideographs is dropped, and the result is lower-cased.
//
// The fold is a superset of a plain strip-and-lower-case.
// The NFKC step lets full-width "ＤＡＴＥ" match "Date", and unicode.Han also
// keeps CJK radicals and marks such as 〇 and 々 that are not ideographs
// in the narrow sense.
func NormalizeKey(key string) string {
	folded := norm.NFKC.String(key)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case unicode.Is(unicode.Han, r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolve returns the replacement text for rawKey. The trimmed key is looked
// up exactly first; failing that, the first record key with the same
// normalized form wins. An empty normalized form never matches.
func Resolve(rawKey string, record *RecordMap) (string, bool) {
	if record == nil {
		return "", false
	}
	key := strings.TrimSpace(rawKey)
	if v, ok := record.Get(key); ok {
		return v, true
	}

	target := NormalizeKey(key)
	if target == "" {
		return "", false
	}
	for i, folded := range record.foldedKeys() {
		if folded == target {
			return record.values[record.keys[i]], true
		}
	}
	return "", false
}
