package mask

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Block is the marker substituted for each masked character.
const Block = "█"

type rule struct {
	pattern string // identity, see Normalize
	text    string // trimmed as entered
	re      *regexp.Regexp
}

// Engine holds an ordered set of literal mask rules. It is safe for
// concurrent use.
type Engine struct {
	mu    sync.RWMutex
	rules []rule
}

func New(patterns ...string) *Engine {
	e := &Engine{}
	for _, p := range patterns {
		e.AddRule(p)
	}
	return e
}

// Normalize returns the identity of a rule: trimmed and lower-cased.
func Normalize(pattern string) string {
	return strings.ToLower(strings.TrimSpace(pattern))
}

// AddRule adds a rule and reports whether the set changed. Blank patterns and
// duplicates leave it unchanged.
func (e *Engine) AddRule(pattern string) bool {
	p := Normalize(pattern)
	if p == "" {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexOf(p) >= 0 {
		return false
	}
	text := strings.TrimSpace(pattern)
	e.rules = append(e.rules, rule{pattern: p, text: text, re: compile(text)})
	return true
}

// compile matches text case-insensitively. Simple case folding misses
// characters whose case mapping changes length (İ, ß), so the full lower,
// upper and folded forms are matched as well, longest first.
func compile(text string) *regexp.Regexp {
	seen := make(map[string]bool)
	var variants []string
	for _, v := range []string{
		text,
		strings.ToLower(text),
		cases.Lower(language.Und).String(text),
		cases.Upper(language.Und).String(text),
		cases.Fold().String(text),
	} {
		if v != "" && !seen[v] {
			seen[v] = true
			variants = append(variants, regexp.QuoteMeta(v))
		}
	}
	sort.SliceStable(variants, func(i, j int) bool { return len(variants[i]) > len(variants[j]) })
	return regexp.MustCompile("(?i)(?:" + strings.Join(variants, "|") + ")")
}

// RemoveRule removes a rule by its normalized identity and reports whether it
// was present.
func (e *Engine) RemoveRule(pattern string) bool {
	p := Normalize(pattern)

	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(p)
	if i < 0 {
		return false
	}
	e.rules = append(e.rules[:i], e.rules[i+1:]...)
	return true
}

func (e *Engine) indexOf(p string) int {
	for i, r := range e.rules {
		if r.pattern == p {
			return i
		}
	}
	return -1
}

// Apply masks text. Rules run in insertion order, each over the output of the
// previous one; every match becomes one Block per character matched.
func (e *Engine) Apply(text string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		text = r.re.ReplaceAllStringFunc(text, func(m string) string {
			return strings.Repeat(Block, utf8.RuneCountInString(m))
		})
	}
	return text
}

// Preview masks text and cuts the result to at most n characters.
func (e *Engine) Preview(text string, n int) string {
	masked := e.Apply(text)
	if n <= 0 || utf8.RuneCountInString(masked) <= n {
		return masked
	}
	return string([]rune(masked)[:n]) + "..."
}

// Rules returns the normalized patterns in insertion order.
func (e *Engine) Rules() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.pattern
	}
	return out
}

// Patterns returns the rules as entered, in insertion order. Feeding them
// back to New rebuilds an identical engine.
func (e *Engine) Patterns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.text
	}
	return out
}

func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

func (e *Engine) Reset() {
	e.mu.Lock()
	e.rules = nil
	e.mu.Unlock()
}
