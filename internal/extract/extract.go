// Package extract turns raw shared text into a confidence-scored
// candidate task using rule-based pattern matching. Extraction is pure
// and never fails: text with no recognizable signal still yields a
// low-confidence candidate.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"remindflow/internal/domain"
)

// reTimePhrase matches date/time expressions plus an optional leading
// connective, so they can be cut out of titles in one pass.
var reTimePhrase = regexp.MustCompile(`(?i)\b(?:at|on|by)?\s*(?:next\s+)?(?:\d{1,2}(?::\d{2})?\s*(?:am|pm)|\d{1,2}:\d{2}|noon|midnight|today|tonight|tomorrow|sunday|monday|tuesday|wednesday|thursday|friday|saturday|\d{1,2}[/.]\d{1,2}(?:[/.]\d{2,4})?|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?)\b`)

var reSpaces = regexp.MustCompile(`\s+`)

type Extractor struct {
	cfg Config
	now func() time.Time
}

func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg, now: time.Now}
}

// NewAt returns an extractor that resolves relative dates against the
// given clock instead of the wall clock.
func NewAt(cfg Config, now func() time.Time) *Extractor {
	return &Extractor{cfg: cfg, now: now}
}

func (e *Extractor) Extract(env domain.Envelope) domain.Candidate {
	now := e.now()
	original := strings.TrimSpace(env.Text)
	lower := strings.ToLower(original)

	c := domain.Candidate{
		OriginalText:        original,
		Title:               e.extractTitle(original),
		Description:         env.ConversationContext,
		Date:                parseDate(original, now),
		TimeOfDay:           parseClock(original),
		Source:              domain.SourceChat,
		ConversationContext: env.ConversationContext,
		SenderInfo:          env.SenderInfo,
		Keywords:            e.collectKeywords(lower),
		InferredPriority:    e.inferPriority(lower),
		ReceivedAt:          env.ReceivedAt,
	}
	c.SuggestedCategory = e.suggestCategory(strings.ToLower(c.Title), lower)
	c.Confidence = e.score(c)
	return c
}

// HasActionVerb reports whether any configured action phrase occurs in
// the candidate's title.
func (e *Extractor) HasActionVerb(c domain.Candidate) bool {
	title := strings.ToLower(c.Title)
	for _, verb := range e.cfg.ActionVerbs {
		if strings.Contains(title, verb) {
			return true
		}
	}
	return false
}

// HasRequestKeywords reports whether the original text contains any
// configured request phrase.
func (e *Extractor) HasRequestKeywords(c domain.Candidate) bool {
	lower := strings.ToLower(c.OriginalText)
	for _, phrase := range e.cfg.RequestPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// IsAmbiguous reports whether the candidate needs user confirmation
// before it is worth materializing unattended.
func (e *Extractor) IsAmbiguous(c domain.Candidate) bool {
	return c.Confidence < e.cfg.AmbiguityCutoff || len(strings.Fields(c.Title)) < 2
}

func (e *Extractor) score(c domain.Candidate) float64 {
	conf := e.cfg.BaseConfidence
	if e.HasActionVerb(c) {
		conf += e.cfg.Weights[SignalActionVerb]
	}
	if c.HasTimeReference() {
		conf += e.cfg.Weights[SignalTimeReference]
	}
	if e.HasRequestKeywords(c) {
		conf += e.cfg.Weights[SignalRequestKeyword]
	}
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

func (e *Extractor) extractTitle(original string) string {
	title := trimPunct(original)

	// Peel leading politeness/request openers, then any connective "to"
	// left behind by phrases like "remember to".
	for {
		lower := strings.ToLower(title)
		stripped := false
		for _, phrase := range e.cfg.RequestPhrases {
			if !strings.HasPrefix(lower, phrase) {
				continue
			}
			// Word boundary: "pleased" must not lose its "please".
			if len(lower) > len(phrase) && isWordChar(lower[len(phrase)]) {
				continue
			}
			title = strings.TrimLeft(title[len(phrase):], " ,.!?")
			stripped = true
			break
		}
		if !stripped {
			break
		}
	}
	if lower := strings.ToLower(title); strings.HasPrefix(lower, "to ") {
		title = title[3:]
	}

	title = reTimePhrase.ReplaceAllString(title, " ")
	title = reSpaces.ReplaceAllString(title, " ")
	title = trimPunct(strings.TrimSpace(title))

	if title == "" {
		title = trimPunct(original)
	}
	if e.cfg.MaxTitleLen > 0 && len(title) > e.cfg.MaxTitleLen {
		cut := e.cfg.MaxTitleLen
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimSpace(title[:cut])
	}
	return title
}

func (e *Extractor) collectKeywords(lower string) []string {
	type hit struct {
		word string
		pos  int
	}
	var hits []hit
	seen := map[string]bool{}
	for _, word := range e.cfg.Vocabulary {
		if seen[word] {
			continue
		}
		if pos := strings.Index(lower, word); pos >= 0 {
			hits = append(hits, hit{word: word, pos: pos})
			seen[word] = true
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	words := make([]string, 0, len(hits))
	for _, h := range hits {
		words = append(words, h.word)
	}
	return words
}

func (e *Extractor) suggestCategory(titleLower, textLower string) string {
	for _, rule := range e.cfg.Categories {
		for _, trigger := range rule.Triggers {
			if strings.Contains(titleLower, trigger) || strings.Contains(textLower, trigger) {
				return rule.Category
			}
		}
	}
	return ""
}

func (e *Extractor) inferPriority(lower string) domain.Priority {
	for _, marker := range e.cfg.UrgencyMarkers {
		if strings.Contains(lower, marker) {
			return domain.PriorityHigh
		}
	}
	return domain.PriorityMedium
}

func trimPunct(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ".!?,;:"))
}
