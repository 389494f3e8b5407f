// Package guard implements per-sender anti-spam checks for outgoing mesh
// messages: an hourly rate limit, a cooldown between sends, duplicate-content
// similarity, and a few pattern heuristics against runaway response loops.
//
// The guard is purely in-memory and advisory. It never returns an error;
// every check yields a Decision. A process restart clears all state.
package guard

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// Rules are the tunable limits applied by CanRespond.
type Rules struct {
	MaxResponsesPerHour       int     `json:"max_responses_per_hour"       env:"TINYMESH_GUARD_MAX_RESPONSES_PER_HOUR"`
	CooldownSeconds           int     `json:"cooldown_seconds"             env:"TINYMESH_GUARD_COOLDOWN_SECONDS"`
	DuplicateContentThreshold float64 `json:"duplicate_content_threshold"  env:"TINYMESH_GUARD_DUPLICATE_CONTENT_THRESHOLD"`
}

// DefaultRules returns the limits used when none are configured.
func DefaultRules() Rules {
	return Rules{
		MaxResponsesPerHour:       30,
		CooldownSeconds:           10,
		DuplicateContentThreshold: 0.8,
	}
}

// Decision is the outcome of a CanRespond check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Stats summarizes a sender's recorded activity. AverageIntervalSeconds is
// computed over the sender's entire retained history, not only the trailing
// hour the rate limit looks at; the retained window is what CleanupOldData
// has not yet pruned.
type Stats struct {
	ResponseCount          int       `json:"responseCount"`
	AverageIntervalSeconds float64   `json:"averageIntervalSeconds"`
	LastResponseAt         time.Time `json:"lastResponseAt,omitzero"`
}

type entry struct {
	timestamp time.Time
	content   string
	messageID string
}

// Guard tracks per-sender response history. Safe for concurrent use.
type Guard struct {
	mu          sync.Mutex
	history     map[string][]entry
	lastContent map[string]string
	now         func() time.Time
}

// New creates a Guard using the wall clock.
func New() *Guard {
	return NewWithClock(time.Now)
}

// NewWithClock creates a Guard with an injected clock.
func NewWithClock(now func() time.Time) *Guard {
	return &Guard{
		history:     make(map[string][]entry),
		lastContent: make(map[string]string),
		now:         now,
	}
}

// genericFillers are low-content phrases that indicate an agent is replying
// reflexively rather than contributing.
var genericFillers = []string{
	"ok",
	"okay",
	"got it",
	"sounds good",
	"thanks",
	"thank you",
	"acknowledged",
	"understood",
	"noted",
	"will do",
	"i agree",
}

// CanRespond decides whether sender may send content right now. Checks run
// in a fixed order and short-circuit on the first failure.
func (g *Guard) CanRespond(sender, content string, rules Rules) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	recent := pruneBefore(g.history[sender], now.Add(-time.Hour))
	g.history[sender] = recent

	if rules.MaxResponsesPerHour > 0 && len(recent) >= rules.MaxResponsesPerHour {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d responses in the last hour",
				len(recent), rules.MaxResponsesPerHour),
		}
	}

	if len(recent) > 0 && rules.CooldownSeconds > 0 {
		elapsed := now.Sub(recent[len(recent)-1].timestamp)
		cooldown := time.Duration(rules.CooldownSeconds) * time.Second
		if elapsed < cooldown {
			remaining := int((cooldown - elapsed).Round(time.Second).Seconds())
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("cooldown active: %ds remaining", remaining),
			}
		}
	}

	if last, ok := g.lastContent[sender]; ok && rules.DuplicateContentThreshold > 0 {
		if sim := similarity(content, last); sim > rules.DuplicateContentThreshold {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("content too similar to previous response (%.2f)", sim),
			}
		}
	}

	if reason := checkPatterns(recent, content, now); reason != "" {
		return Decision{Allowed: false, Reason: reason}
	}

	return Decision{Allowed: true}
}

// RecordResponse records an accepted send. Callers must only record sends
// that CanRespond allowed.
func (g *Guard) RecordResponse(sender, content, messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history[sender] = append(g.history[sender], entry{
		timestamp: g.now(),
		content:   content,
		messageID: messageID,
	})
	g.lastContent[sender] = content
}

// CleanupOldData drops history entries older than one hour and forgets
// senders whose history becomes empty. Intended to run on a periodic timer.
func (g *Guard) CleanupOldData() {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := g.now().Add(-time.Hour)
	for sender, hist := range g.history {
		pruned := pruneBefore(hist, cutoff)
		if len(pruned) == 0 {
			delete(g.history, sender)
			delete(g.lastContent, sender)
			continue
		}
		g.history[sender] = pruned
	}
}

// Run invokes CleanupOldData every interval until stop is closed.
func (g *Guard) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.CleanupOldData()
		case <-stop:
			return
		}
	}
}

// SenderStats returns activity statistics for sender. The average interval
// spans the full retained history rather than the trailing-hour rate window.
func (g *Guard) SenderStats(sender string) Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	hist := g.history[sender]
	s := Stats{ResponseCount: len(hist)}
	if len(hist) == 0 {
		return s
	}
	s.LastResponseAt = hist[len(hist)-1].timestamp
	if len(hist) > 1 {
		span := hist[len(hist)-1].timestamp.Sub(hist[0].timestamp)
		s.AverageIntervalSeconds = span.Seconds() / float64(len(hist)-1)
	}
	return s
}

func pruneBefore(hist []entry, cutoff time.Time) []entry {
	i := 0
	for i < len(hist) && !hist[i].timestamp.After(cutoff) {
		i++
	}
	if i == 0 {
		return hist
	}
	return append([]entry(nil), hist[i:]...)
}

func checkPatterns(recent []entry, content string, now time.Time) string {
	if len(content) < 10 {
		short := 0
		for _, e := range recent {
			if len(e.content) < 10 {
				short++
			}
		}
		if short >= 3 {
			return "too many short responses"
		}
	}

	identical := 0
	fiveMinAgo := now.Add(-5 * time.Minute)
	for _, e := range recent {
		if e.content == content && e.timestamp.After(fiveMinAgo) {
			identical++
		}
	}
	if identical >= 2 {
		return "identical response already sent recently"
	}

	if containsFiller(content) {
		generic := 0
		for _, e := range recent {
			if containsFiller(e.content) {
				generic++
			}
		}
		if generic >= 2 {
			return "too many generic responses"
		}
	}

	return ""
}

// containsFiller reports whether content is built around one of the generic
// filler phrases. Matching is on whole words so "ok" does not fire on
// "broker" or "token".
func containsFiller(content string) bool {
	words := normalizeWords(content)
	for _, phrase := range genericFillers {
		if containsPhrase(words, strings.Fields(phrase)) {
			return true
		}
	}
	return false
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(words) < len(phrase) {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, p := range phrase {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// similarity compares two texts as lowercase word sets (tokens longer than
// two characters, punctuation stripped) and returns |intersection| / |union|.
// Two empty sets are fully similar; exactly one empty set is not similar.
func similarity(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range normalizeWords(s) {
		if utf8.RuneCountInString(tok) > 2 {
			set[tok] = struct{}{}
		}
	}
	return set
}

// normalizeWords lowercases s, splits it on whitespace, and strips
// surrounding punctuation from each word. Any letter or number in any
// script counts as word content.
func normalizeWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	words := make([]string, 0, len(fields))
	for _, field := range fields {
		tok := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if tok != "" {
			words = append(words, tok)
		}
	}
	return words
}
