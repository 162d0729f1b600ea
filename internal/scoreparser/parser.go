// Package scoreparser reduces free-form model output to a relevance score on
// the 1-7 scale. Parsing is an ordered list of pure strategies; the first
// strategy that recognises the text wins.
package scoreparser

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"relevance-service/internal/models"
)

// Strategy extracts a score from text, reporting whether it recognised anything.
type Strategy func(text string) (int, bool)

var (
	// A minus sign only counts at the start or after whitespace so that
	// hyphenated tokens like "COVID-19" read as 19.
	numberPattern = regexp.MustCompile(`(?:^|\s)-\d+(?:\.\d+)?|\d+(?:\.\d+)?`)
	thinkPattern  = regexp.MustCompile(`(?is)<think>.*?</think>`)
	fencePattern  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// reasoningMarkers precede the final verdict in chain-of-thought style replies.
var reasoningMarkers = []string{
	"final answer:",
	"my answer is:",
	"therefore, the score is",
	"score:",
}

type phrase struct {
	text  string
	score int
}

// vocabulary is ordered longest phrase first so "very slightly" is consumed
// before "slightly" can match inside it.
var vocabulary = func() []phrase {
	p := []phrase{
		{"extremely relevant", 7},
		{"very relevant", 6},
		{"moderately relevant", 5},
		{"somewhat relevant", 4},
		{"slightly relevant", 3},
		{"very slightly relevant", 2},
		{"not relevant", 1},
		{"irrelevant", 1},
	}
	sort.SliceStable(p, func(i, j int) bool { return len(p[i].text) > len(p[j].text) })
	return p
}()

// Parser runs strategies in order and falls back to a neutral score.
type Parser struct {
	strategies []Strategy
	fallback   int
}

// New returns a parser with the default strategy chain.
func New() *Parser {
	return &Parser{
		strategies: []Strategy{
			Reasoning,
			WholeNumber,
			FirstNumber,
			JSONScore,
			Vocabulary,
		},
		fallback: models.DefaultScore,
	}
}

// NewWithStrategies builds a parser from a custom chain.
func NewWithStrategies(fallback int, strategies ...Strategy) *Parser {
	return &Parser{strategies: strategies, fallback: models.ClampScore(fallback)}
}

var defaultParser = New()

// Parse is the package-level shortcut for New().Parse.
func Parse(text string) int {
	return defaultParser.Parse(text)
}

// Parse never fails: unrecognised or empty input yields the fallback score.
func (p *Parser) Parse(text string) (score int) {
	defer func() {
		if r := recover(); r != nil {
			score = p.fallback
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return p.fallback
	}
	for _, s := range p.strategies {
		if v, ok := s(text); ok {
			return models.ClampScore(v)
		}
	}
	return p.fallback
}

// Reasoning strips thinking blocks, code fences and verdict markers, then
// re-parses whatever is left with the remaining strategies.
func Reasoning(text string) (int, bool) {
	cleaned := thinkPattern.ReplaceAllString(text, " ")
	cleaned = fencePattern.ReplaceAllString(cleaned, "$1")
	changed := cleaned != text

	lower := strings.ToLower(cleaned)
	cut := -1
	for _, marker := range reasoningMarkers {
		if i := strings.LastIndex(lower, marker); i >= 0 {
			if end := i + len(marker); end > cut {
				cut = end
			}
		}
	}
	if cut >= 0 {
		cleaned = cleaned[cut:]
		changed = true
	}
	cleaned = strings.TrimSpace(cleaned)
	if !changed || cleaned == "" {
		return 0, false
	}

	for _, s := range []Strategy{WholeNumber, FirstNumber, JSONScore, Vocabulary} {
		if v, ok := s(cleaned); ok {
			return v, true
		}
	}
	return 0, false
}

// WholeNumber parses the entire string as a number and rounds to nearest.
func WholeNumber(text string) (int, bool) {
	text = strings.Trim(strings.TrimSpace(text), ".*\"' ")
	f, ok := finite(text)
	if !ok {
		return 0, false
	}
	return roundClamp(f), true
}

// FirstNumber takes the first numeric run anywhere in the text.
func FirstNumber(text string) (int, bool) {
	m := strings.TrimSpace(numberPattern.FindString(text))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return roundClamp(f), true
}

// JSONScore reads a numeric "score" field from a JSON object in the text.
func JSONScore(text string) (int, bool) {
	raw := objectPattern.FindString(text)
	if raw == "" {
		return 0, false
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return 0, false
	}
	for key, value := range payload {
		if !strings.EqualFold(key, "score") {
			continue
		}
		switch v := value.(type) {
		case float64:
			return roundClamp(v), true
		case string:
			if f, ok := finite(strings.TrimSpace(v)); ok {
				return roundClamp(f), true
			}
		}
	}
	return 0, false
}

// Vocabulary maps relevance phrases to scores; the highest match wins.
func Vocabulary(text string) (int, bool) {
	lower := strings.ToLower(text)
	best, found := 0, false
	for _, p := range vocabulary {
		if !strings.Contains(lower, p.text) {
			continue
		}
		lower = strings.ReplaceAll(lower, p.text, " ")
		if !found || p.score > best {
			best = p.score
			found = true
		}
	}
	return best, found
}

// finite rejects "inf", "Infinity" and "NaN", which ParseFloat accepts.
func finite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func roundClamp(f float64) int {
	if math.IsInf(f, 1) {
		return models.MaxScore
	}
	if math.IsInf(f, -1) {
		return models.MinScore
	}
	r := math.Round(f)
	if r > float64(models.MaxScore) {
		return models.MaxScore
	}
	if r < float64(models.MinScore) {
		return models.MinScore
	}
	return int(r)
}
