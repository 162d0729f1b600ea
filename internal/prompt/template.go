package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"relevance-service/internal/models"
)

// DefaultTemplate asks for a single integer on the 7-point scale.
const DefaultTemplate = `You are an advanced AI specialized in evaluating the relevance of scientific papers to a specified topic. Your task is to analyze the provided paper information (title, abstract, keywords) and output a relevance score using a 7-point semantic differential scale.

INPUTS:
TOPIC: {TOPIC}
PAPER TITLE: {TITLE}
PAPER ABSTRACT: {ABSTRACT}
KEYWORDS: {KEYWORDS}
CATEGORIES: {CATEGORIES}

ANALYSIS INSTRUCTIONS:
Term Matching:
- Identify key terms, synonyms, and relevant concepts related to the provided topic.
- Assess the frequency and contextual usage of these terms within the paper's title, abstract, and keywords.

Contextual Alignment:
- Evaluate both direct and indirect connections between the paper content and the provided topic.
- Even superficial mentions or indirect references should influence the relevance score.

Depth and Significance:
- Evaluate the extent to which the paper directly or indirectly focuses on the specified topic.
- The paper does not need to be centered exclusively around the topic; partial or secondary references also indicate relevance.

7-POINT SCORING SCALE:
- 1: Not relevant at all - No meaningful connection to the topic
- 2: Very slightly relevant - Only tangential or vague connections
- 3: Slightly relevant - Few or minimal connections to the topic
- 4: Somewhat relevant - Some indirect but meaningful connections
- 5: Moderately relevant - Clear connections to the topic
- 6: Very relevant - Strong relevance with significant topic-related content
- 7: Extremely relevant - Direct focus on the topic with comprehensive coverage

OUTPUT FORMAT:
Only return a single integer value between 1 and 7 representing the relevance score.
DO NOT include any additional text, explanations, or justifications.
Example output: 6`

var placeholderPattern = regexp.MustCompile(`\{[A-Z_]+\}`)

var known = map[string]bool{
	models.PlaceholderTopic:      true,
	models.PlaceholderTitle:      true,
	models.PlaceholderAbstract:   true,
	models.PlaceholderKeywords:   true,
	models.PlaceholderCategories: true,
}

// OrDefault returns tmpl, or DefaultTemplate when tmpl is blank.
func OrDefault(tmpl string) string {
	if strings.TrimSpace(tmpl) == "" {
		return DefaultTemplate
	}
	return tmpl
}

// Validate rejects templates with placeholders the renderer does not know.
// Templates without {TITLE} or {ABSTRACT} are accepted but rarely useful.
func Validate(tmpl string) error {
	var unknown []string
	for _, p := range placeholderPattern.FindAllString(tmpl, -1) {
		if !known[p] {
			unknown = append(unknown, p)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown placeholders in prompt template: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// Build renders the template for one record.
func Build(tmpl, topic string, rec models.Record, m models.ColumnMapping) string {
	req := models.ScoringRequest{Topic: topic, Record: rec, PromptTemplate: OrDefault(tmpl)}
	return req.Render(m)
}
