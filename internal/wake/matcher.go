package wake

import (
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultPhrases is the activation set used when none is configured.
var DefaultPhrases = []string{"jarvis", "wake up", "activate", "system", "hello jarvis"}

const defaultPhoneticThreshold = 0.85

// Match methods reported in metrics.
const (
	MethodContains = "contains"
	MethodPhonetic = "phonetic"
)

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhonetic enables the phonetic fallback. A phrase matches phonetically
// when a window of utterance words shares a Double Metaphone code with every
// phrase word and the window's Jaro-Winkler similarity is at least threshold.
func WithPhonetic(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.phonetic = true
		if threshold > 0 {
			m.threshold = threshold
		}
	}
}

// Matcher tests recognised utterances against the activation set. It is safe
// for concurrent use; the phrase set can be swapped at runtime.
type Matcher struct {
	phonetic  bool
	threshold float64

	mu      sync.RWMutex
	phrases []string
}

// NewMatcher returns a Matcher for phrases. An empty set falls back to
// [DefaultPhrases].
func NewMatcher(phrases []string, opts ...MatcherOption) *Matcher {
	m := &Matcher{threshold: defaultPhoneticThreshold}
	for _, o := range opts {
		o(m)
	}
	m.SetPhrases(phrases)
	return m
}

// SetPhrases replaces the activation set.
func (m *Matcher) SetPhrases(phrases []string) {
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	norm := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = Normalize(p); p != "" {
			norm = append(norm, p)
		}
	}
	m.mu.Lock()
	m.phrases = norm
	m.mu.Unlock()
}

// Phrases returns the normalised activation set.
func (m *Matcher) Phrases() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.phrases...)
}

// Match reports the first phrase contained in utterance and the method that
// matched it. Plain containment is tried for every phrase before the
// phonetic fallback.
func (m *Matcher) Match(utterance string) (phrase, method string, ok bool) {
	text := Normalize(utterance)
	if text == "" {
		return "", "", false
	}
	phrases := m.Phrases()
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return p, MethodContains, true
		}
	}
	if !m.phonetic {
		return "", "", false
	}
	words := tokens(text)
	for _, p := range phrases {
		if m.phoneticMatch(words, tokens(p)) {
			return p, MethodPhonetic, true
		}
	}
	return "", "", false
}

// Normalize trims, lowercases and collapses internal whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// tokens splits normalised text into words stripped of punctuation.
func tokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// phoneticMatch slides a window the size of the phrase over the utterance.
func (m *Matcher) phoneticMatch(words, phrase []string) bool {
	n := len(phrase)
	if n == 0 || len(words) < n {
		return false
	}
	target := strings.Join(phrase, " ")
	for i := 0; i+n <= len(words); i++ {
		window := words[i : i+n]
		if !soundsAlike(window, phrase) {
			continue
		}
		if matchr.JaroWinkler(strings.Join(window, " "), target, false) >= m.threshold {
			return true
		}
	}
	return false
}

// soundsAlike reports whether each word pair shares a Double Metaphone code.
func soundsAlike(a, b []string) bool {
	for i := range a {
		ap, as := matchr.DoubleMetaphone(a[i])
		bp, bs := matchr.DoubleMetaphone(b[i])
		if !codeOverlap(ap, as, bp, bs) {
			return false
		}
	}
	return true
}

func codeOverlap(ap, as, bp, bs string) bool {
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
