package parser

import (
	"regexp"
)

// CodeLength is the number of digits in a verification code
const CodeLength = 6

// CodeDetector extracts verification codes from plain text
type CodeDetector struct {
	digitRuns *regexp.Regexp
	context   *regexp.Regexp
}

// NewCodeDetector creates a new code detector
func NewCodeDetector() *CodeDetector {
	return &CodeDetector{
		digitRuns: regexp.MustCompile(`\d+`),
		// Wording that shows up around Microsoft account protection codes
		context: regexp.MustCompile(`(?i)verification|code|confirm|security|enter.*below|enter.*next`),
	}
}

// Extract returns the first run of exactly six digits in text, provided
// the text also reads like a verification message. Digit runs without any
// such wording are treated as incidental (order numbers, phone numbers).
func (d *CodeDetector) Extract(text string) (string, bool) {
	candidates := d.Candidates(text)
	if len(candidates) == 0 {
		return "", false
	}

	if !d.context.MatchString(text) {
		return "", false
	}

	return candidates[0], true
}

// Candidates returns every maximal run of exactly six ASCII digits in
// document order
func (d *CodeDetector) Candidates(text string) []string {
	var codes []string
	for _, run := range d.digitRuns.FindAllString(text, -1) {
		if len(run) == CodeLength {
			codes = append(codes, run)
		}
	}
	return codes
}
