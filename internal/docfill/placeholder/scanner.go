package placeholder

import "strings"

// Token is one placeholder occurrence inside a single text node
type Token struct {
	Start int    // byte offset of the first opening brace
	End   int    // byte offset just past the last closing brace
	Raw   string // the full match, braces included
	Key   string // text between the brace runs, untrimmed
}

// Scan returns the placeholder tokens in text, leftmost first and
// non-overlapping. A token is one or more '{', at least one character that
// is not a brace, then one or more '}'.
func Scan(text string) []Token {
	var tokens []Token
	n := len(text)
	i := 0
	for i < n {
		if text[i] != '{' {
			i++
			continue
		}
		keyStart := i
		for keyStart < n && text[keyStart] == '{' {
			keyStart++
		}
		keyEnd := keyStart
		for keyEnd < n && text[keyEnd] != '{' && text[keyEnd] != '}' {
			keyEnd++
		}
		if keyEnd == keyStart || keyEnd == n || text[keyEnd] != '}' {
			// restart at the brace that interrupted the key, if any
			if keyEnd > keyStart {
				i = keyEnd
			} else {
				i = keyStart
			}
			continue
		}
		end := keyEnd
		for end < n && text[end] == '}' {
			end++
		}
		tokens = append(tokens, Token{
			Start: i,
			End:   end,
			Raw:   text[i:end],
			Key:   text[keyStart:keyEnd],
		})
		i = end
	}
	return tokens
}

// Replace substitutes every resolvable token in text. Unresolved tokens are
// left verbatim and their trimmed keys are returned in order of appearance.
func Replace(text string, record *RecordMap) (out string, replaced int, unresolved []string) {
	tokens := Scan(text)
	if len(tokens) == 0 {
		return text, 0, nil
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, tok := range tokens {
		b.WriteString(text[last:tok.Start])
		if v, ok := Resolve(tok.Key, record); ok {
			b.WriteString(v)
			replaced++
		} else {
			b.WriteString(tok.Raw)
			unresolved = append(unresolved, strings.TrimSpace(tok.Key))
		}
		last = tok.End
	}
	b.WriteString(text[last:])
	return b.String(), replaced, unresolved
}

// Keys returns the trimmed keys of every token in text
func Keys(text string) []string {
	tokens := Scan(text)
	keys := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		keys = append(keys, strings.TrimSpace(tok.Key))
	}
	return keys
}
