package phonetic_test

import (
	"testing"

	"github.com/MrWong99/murmur/internal/transcript/phonetic"
)

var fillers = []string{"uh", "um", "hmm", "ah", "eh", "er", "erm", "mm", "mhm"}

func TestMatch_StretchedFillers(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	tests := []struct {
		token string
		want  string
	}{
		{"uhh", "uh"},
		{"uhhh", "uh"},
		{"ummm", "um"},
		{"hmmmm", "hmm"},
		{"HMMM", "hmm"},
		{"ahh", "ah"},
	}
	for _, tt := range tests {
		got, score, ok := m.Match(tt.token, fillers)
		if !ok {
			t.Errorf("Match(%q): no match, want %q", tt.token, tt.want)
			continue
		}
		if got != tt.want {
			t.Errorf("Match(%q) = %q, want %q", tt.token, got, tt.want)
		}
		if score < 0.85 || score > 1 {
			t.Errorf("Match(%q) score = %f, want in [0.85, 1]", tt.token, score)
		}
	}
}

func TestMatch_RealWordsRejected(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	for _, token := range []string{"him", "hello", "water", "tea", "yeah", "umbrella"} {
		if got, _, ok := m.Match(token, fillers); ok {
			t.Errorf("Match(%q) = %q, want no match", token, got)
		}
	}
}

func TestMatch_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if _, _, ok := m.Match("", fillers); ok {
		t.Error("empty token matched")
	}
	if _, _, ok := m.Match("   ", fillers); ok {
		t.Error("blank token matched")
	}
	if _, _, ok := m.Match("uh", nil); ok {
		t.Error("matched against empty vocabulary")
	}
}

func TestMatch_ExactWordScoresOne(t *testing.T) {
	t.Parallel()

	got, score, ok := phonetic.New().Match("erm", fillers)
	if !ok || got != "erm" || score < 0.999 {
		t.Errorf("Match(erm) = %q, %f, %v", got, score, ok)
	}
}

func TestThresholdOptions(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if strict.Similar("uhhh", fillers) {
		t.Error("strict matcher accepted uhhh")
	}
	loose := phonetic.New(phonetic.WithPhoneticThreshold(0.5), phonetic.WithFuzzyThreshold(0.5))
	if !loose.Similar("uhhh", fillers) {
		t.Error("loose matcher rejected uhhh")
	}
}
