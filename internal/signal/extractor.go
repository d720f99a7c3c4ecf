// Package signal scores free-text message windows for planning intent.
// Four independent pattern categories (temporal, location, time-of-day,
// food/activity) are evaluated over the concatenated window; the decision
// policy turns the per-category matches into a single approach/no-approach
// verdict. The pattern table lives in patterns.go and is data-driven so
// categories can be tested independently of the control flow.
package signal

import (
	"strings"

	"go.uber.org/zap"

	"kanpai/internal/types"
)

const (
	// botRecency is how many trailing messages are checked for bot
	// authorship. A bot message that recent means the engine just spoke;
	// approaching again would answer its own output.
	botRecency = 5

	// foodOverrideWindow and foodOverrideHits implement the repeated-
	// craving override: food talk in 2 of the last 3 messages is a strong
	// signal even when nothing else matched.
	foodOverrideWindow = 3
	foodOverrideHits   = 2

	// stalemateWindow / stalemateHits: deflections in 2 of the last 6
	// messages mean the group is stuck.
	stalemateWindow = 6
	stalemateHits   = 2
)

// Intent is the result of one extraction pass. When/Where/Time hold the
// literal matched substrings and feed prompt construction only.
type Intent struct {
	ShouldApproach bool
	Confidence     int // count of matched categories, 0-4
	When           string
	Where          string
	Time           string
	Food           string
}

// Extractor evaluates message windows against the signal table.
type Extractor struct {
	patterns []Pattern
	logger   *zap.Logger
}

// NewExtractor returns an extractor over the default pattern table.
func NewExtractor(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{patterns: DefaultPatterns, logger: logger}
}

// Extract scores the window (oldest first) and applies the decision policy:
//
//  1. A bot-authored message in the last 5 forces no-approach (re-entrancy
//     guard, unconditional).
//  2. Past-tense/completion phrasing anywhere in the window vetoes.
//  3. Otherwise approach requires confidence >= 2 with at least one of
//     location, food, or time-of-day matched.
//  4. Override: food matches in 2 of the last 3 individual messages
//     approaches even below the confidence floor.
func (e *Extractor) Extract(window []types.Message) Intent {
	var intent Intent
	if len(window) == 0 {
		return intent
	}

	text := concatText(window)
	matched := map[Category]string{}
	for _, p := range e.patterns {
		if _, done := matched[p.Category]; done {
			continue
		}
		if m := p.re.FindString(text); m != "" {
			matched[p.Category] = m
		}
	}

	intent.Confidence = len(matched)
	intent.When = matched[CategoryTemporal]
	intent.Where = matched[CategoryLocation]
	intent.Time = matched[CategoryTimeOfDay]
	intent.Food = matched[CategoryFood]

	if botSpokeRecently(window) {
		e.logger.Debug("signal: bot spoke recently, suppressing approach")
		return intent
	}

	if hasPastTense(text) {
		e.logger.Debug("signal: past-tense veto", zap.Int("confidence", intent.Confidence))
		return intent
	}

	_, hasLoc := matched[CategoryLocation]
	_, hasFood := matched[CategoryFood]
	_, hasTime := matched[CategoryTimeOfDay]

	if intent.Confidence >= 2 && (hasLoc || hasFood || hasTime) {
		intent.ShouldApproach = true
		return intent
	}

	if foodRepetition(window, e.patterns) {
		intent.ShouldApproach = true
	}
	return intent
}

// DetectStalemate reports whether the trailing window is dominated by
// "anything is fine" deflections.
func DetectStalemate(window []types.Message) bool {
	start := len(window) - stalemateWindow
	if start < 0 {
		start = 0
	}
	hits := 0
	for _, m := range window[start:] {
		if stalemateRe.MatchString(m.Text) {
			hits++
		}
	}
	return hits >= stalemateHits
}

func concatText(window []types.Message) string {
	parts := make([]string, 0, len(window))
	for _, m := range window {
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, "\n")
}

func botSpokeRecently(window []types.Message) bool {
	start := len(window) - botRecency
	if start < 0 {
		start = 0
	}
	for _, m := range window[start:] {
		if m.FromBot {
			return true
		}
	}
	return false
}

func hasPastTense(text string) bool {
	for _, re := range pastTense {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// foodRepetition checks the last 3 messages individually (not the
// concatenated window) for repeated food talk.
func foodRepetition(window []types.Message, patterns []Pattern) bool {
	start := len(window) - foodOverrideWindow
	if start < 0 {
		start = 0
	}
	hits := 0
	for _, m := range window[start:] {
		for _, p := range patterns {
			if p.Category != CategoryFood {
				continue
			}
			if p.re.MatchString(m.Text) {
				hits++
				break
			}
		}
	}
	return hits >= foodOverrideHits
}
