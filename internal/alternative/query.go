package alternative

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// Search expression limits.
const (
	MaxQueryLength   = 500
	MaxQueryBranches = 10
)

// ErrInvalidQuery is returned for malformed alternative search expressions.
var ErrInvalidQuery = eris.New("alternative: invalid search query")

// ValidateSearchQuery checks an OR-separated search expression such as
// `"X" OR "Y"`. Quoted text is never split.
func ValidateSearchQuery(q string) error {
	_, err := ParseQuery(q)
	return err
}

// ParseQuery validates q and returns its phrases left to right with
// surrounding quotes removed.
func ParseQuery(q string) ([]string, error) {
	if strings.TrimSpace(q) == "" {
		return nil, eris.Wrap(ErrInvalidQuery, "empty query")
	}
	if n := utf8.RuneCountInString(q); n > MaxQueryLength {
		return nil, eris.Wrapf(ErrInvalidQuery, "query is %d characters, limit %d", n, MaxQueryLength)
	}

	tokens, err := tokenize(q)
	if err != nil {
		return nil, err
	}

	var (
		branches [][]string
		current  []string
	)
	for _, tok := range tokens {
		if tok == "OR" {
			branches = append(branches, current)
			current = nil
			continue
		}
		current = append(current, tok)
	}
	branches = append(branches, current)

	if len(branches) > MaxQueryBranches {
		return nil, eris.Wrapf(ErrInvalidQuery, "%d branches, limit %d", len(branches), MaxQueryBranches)
	}

	phrases := make([]string, 0, len(branches))
	for i, b := range branches {
		phrase := strings.TrimSpace(unquote(strings.Join(b, " ")))
		if phrase == "" {
			return nil, eris.Wrapf(ErrInvalidQuery, "branch %d is empty", i+1)
		}
		phrases = append(phrases, phrase)
	}
	return phrases, nil
}

// tokenize splits on whitespace outside double quotes. A quoted run stays
// one token, quotes included.
func tokenize(q string) ([]string, error) {
	var (
		tokens  []string
		b       strings.Builder
		inQuote bool
	)
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range q {
		switch {
		case r == '"':
			inQuote = !inQuote
			b.WriteRune(r)
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			b.WriteRune(r)
		}
	}
	if inQuote {
		return nil, eris.Wrap(ErrInvalidQuery, "unbalanced quote")
	}
	flush()
	return tokens, nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}
