// Package transcript decides whether a transcription is worth answering.
//
// Speech-to-text engines turn breathing, keyboard clicks and room noise into
// short artefacts such as ".", "um", "42" or "the". [Filter] rejects those so
// the turn loop can re-arm listening instead of spending a chat round-trip on
// them. Rejection is a normal outcome, not an error.
package transcript

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/murmur/internal/transcript/phonetic"
)

// DefaultMinLength is the shortest trimmed transcript (in runes) that is
// accepted.
const DefaultMinLength = 3

// DefaultPatterns are matched case-insensitively against the whole trimmed
// transcript. Any match rejects it.
var DefaultPatterns = []string{
	`^[.,\-\s]*$`,
	`^(uh|um|hmm|ah|eh)[\s.,-]*$`,
	`^[a-z]{1,2}[\s.,-]*$`,
	`^\d+[\s.,-]*$`,
	`^(the|a|an|and|or|but|in|on|at|to|for|of|with|by)[\s.,-]*$`,
}

// DefaultFillers is the vocabulary used by the fuzzy filler gate.
var DefaultFillers = []string{"uh", "um", "hmm", "ah", "eh", "er", "erm", "mm", "mhm"}

// Reason explains a verdict.
type Reason string

const (
	Accepted       Reason = ""
	RejectEmpty    Reason = "empty"
	RejectTooShort Reason = "too_short"
	RejectNoise    Reason = "noise_pattern"
	RejectFiller   Reason = "filler"
)

// Option configures a Filter.
type Option func(*options)

type options struct {
	patterns  []string
	extra     []string
	minLength int
	matcher   *phonetic.Matcher
	fillers   []string
}

// WithPatterns replaces the noise patterns. A nil or empty slice keeps
// DefaultPatterns.
func WithPatterns(patterns []string) Option {
	return func(o *options) {
		if len(patterns) > 0 {
			o.patterns = patterns
		}
	}
}

// WithExtraPatterns adds noise patterns on top of the base set, which is
// DefaultPatterns unless WithPatterns replaced it.
func WithExtraPatterns(patterns []string) Option {
	return func(o *options) { o.extra = append(o.extra, patterns...) }
}

// WithMinLength sets the minimum accepted length in runes.
func WithMinLength(n int) Option {
	return func(o *options) { o.minLength = n }
}

// WithFillerMatcher enables the fuzzy filler gate: a transcript whose every
// word sounds like one of fillers is rejected. A nil fillers slice uses
// DefaultFillers.
func WithFillerMatcher(m *phonetic.Matcher, fillers []string) Option {
	return func(o *options) {
		o.matcher = m
		o.fillers = fillers
		if o.fillers == nil {
			o.fillers = DefaultFillers
		}
	}
}

// Filter is immutable after New and safe for concurrent use.
type Filter struct {
	patterns  []*regexp.Regexp
	minLength int
	matcher   *phonetic.Matcher
	fillers   []string
}

// New compiles the configured patterns. Every pattern that fails to compile
// is reported.
func New(opts ...Option) (*Filter, error) {
	o := options{patterns: DefaultPatterns, minLength: DefaultMinLength}
	for _, opt := range opts {
		opt(&o)
	}
	if o.minLength < 0 {
		return nil, fmt.Errorf("transcript: negative min length %d", o.minLength)
	}

	f := &Filter{minLength: o.minLength, matcher: o.matcher, fillers: o.fillers}
	var errs []error
	for _, p := range slices.Concat(o.patterns, o.extra) {
		re, err := CompilePattern(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		f.patterns = append(f.patterns, re)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f, nil
}

// Default returns a filter with the default patterns, the default minimum
// length and no filler gate.
func Default() *Filter {
	f, err := New()
	if err != nil {
		panic(err)
	}
	return f
}

// CompilePattern compiles a noise pattern with case-insensitive matching.
func CompilePattern(p string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		return nil, fmt.Errorf("transcript: pattern %q: %w", p, err)
	}
	return re, nil
}

// Accept reports whether text should be answered.
func (f *Filter) Accept(text string) bool {
	return f.Check(text) == Accepted
}

// Check returns Accepted or the first rule that rejected text.
func (f *Filter) Check(text string) Reason {
	t := strings.TrimSpace(text)
	if t == "" {
		return RejectEmpty
	}
	if utf8.RuneCountInString(t) < f.minLength {
		return RejectTooShort
	}
	for _, re := range f.patterns {
		if re.MatchString(t) {
			return RejectNoise
		}
	}
	if f.matcher != nil && f.allFillers(t) {
		return RejectFiller
	}
	return Accepted
}

func (f *Filter) allFillers(t string) bool {
	words := strings.FieldsFunc(t, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !f.matcher.Similar(w, f.fillers) {
			return false
		}
	}
	return true
}
