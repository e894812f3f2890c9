// Package normalizer turns free-text item descriptions into canonical token
// sequences. It lower-cases input, splits on non-alphanumeric boundaries,
// removes English stop-words and reduces each word to its Snowball (Porter2)
// stem.
package normalizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball/english"

	apperrors "github.com/Adithya-Monish-Kumar-K/lostfound-matcher/pkg/errors"
)

// Normalize returns the ordered token sequence for text. Empty or
// whitespace-only text yields an empty, non-nil slice. Text that is not valid
// UTF-8 is rejected with ErrInvalidInput.
func Normalize(text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, apperrors.Invalid("description is not valid UTF-8")
	}
	words := strings.FieldsFunc(strings.ToLower(text), isSeparator)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if !keep(word) {
			continue
		}
		stemmed := english.Stem(word, false)
		if !keep(stemmed) {
			continue
		}
		tokens = append(tokens, stemmed)
	}
	return tokens, nil
}

// Join reserialises a token sequence as text.
func Join(tokens []string) string {
	return strings.Join(tokens, " ")
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func keep(word string) bool {
	if utf8.RuneCountInString(word) < 2 {
		return false
	}
	return !IsStopWord(word)
}
