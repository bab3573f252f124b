// Package phonetic scores how much a spoken token sounds like one of a small
// vocabulary. It pairs Double Metaphone codes with Jaro-Winkler similarity:
// a vocabulary word whose codes overlap with the token's is accepted at the
// phonetic threshold, any other word only at the stricter fuzzy threshold.
//
// The transcript filter uses it to recognise stretched or misspelled filler
// sounds ("uhhh", "hmmmm", "ummm") that exact patterns miss.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.85
	defaultFuzzyThreshold    = 0.90
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a word that
// shares a Double Metaphone code with the token. Default: 0.85.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a word with no
// phonetic overlap. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher is read-only after New and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher with the given options applied over the defaults.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the vocabulary word that token most resembles. When nothing
// clears a threshold, match is "", score is 0 and ok is false.
// Comparison is case-insensitive.
func (m *Matcher) Match(token string, vocabulary []string) (match string, score float64, ok bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" || len(vocabulary) == 0 {
		return "", 0, false
	}
	tokenCodes := codes(token)

	bestPhonetic := false
	for _, word := range vocabulary {
		w := strings.ToLower(strings.TrimSpace(word))
		if w == "" {
			continue
		}
		jw := matchr.JaroWinkler(token, w, false)
		if overlaps(tokenCodes, codes(w)) {
			if jw >= m.phoneticThreshold && (!bestPhonetic || jw > score) {
				match, score, bestPhonetic = word, jw, true
			}
			continue
		}
		if !bestPhonetic && jw >= m.fuzzyThreshold && jw > score {
			match, score = word, jw
		}
	}
	return match, score, match != ""
}

// Similar reports whether token matches any vocabulary word.
func (m *Matcher) Similar(token string, vocabulary []string) bool {
	_, _, ok := m.Match(token, vocabulary)
	return ok
}

func codes(word string) [2]string {
	p, s := matchr.DoubleMetaphone(word)
	return [2]string{p, s}
}

func overlaps(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
