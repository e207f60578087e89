// Package search filters the roster for the list fallback view when a badge
// cannot be scanned.
package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"turnstile/internal/domain"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases and removes diacritics so "Müller" matches "mULLER".
func Fold(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Filter returns the participants whose first name, last name, or email
// contains the folded query as a substring. An empty query returns the input
// unchanged (load order).
func Filter(query string, participants []domain.Participant) []domain.Participant {
	q := Fold(strings.TrimSpace(query))
	if q == "" {
		return participants
	}
	var out []domain.Participant
	for _, p := range participants {
		if strings.Contains(Fold(p.FirstName), q) ||
			strings.Contains(Fold(p.LastName), q) ||
			strings.Contains(Fold(p.Email), q) {
			out = append(out, p)
		}
	}
	return out
}
