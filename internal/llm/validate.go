package llm

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validator decides whether generated content is a complete, usable summary.
type Validator interface {
	// Validate returns the cleaned content, or a *ValidationError.
	Validate(content, finishReason string) (string, error)
}

// SectionValidator checks a summary against structural completeness rules:
// the generation must have stopped naturally, the content must reach a
// minimum length, every required section heading must be present, and the
// tail must not look truncated.
type SectionValidator struct {
	MinLength        int
	RequiredSections []string
}

// DefaultValidator returns the validator used for daily summaries.
func DefaultValidator() Validator {
	return SectionValidator{
		MinLength:        100,
		RequiredSections: []string{"3줄 요약", "링크/URL"},
	}
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThink removes reasoning blocks some models prepend to their answer.
func StripThink(content string) string {
	cleaned := thinkBlock.ReplaceAllString(content, "")
	// An unclosed think block means the answer never started.
	if i := strings.Index(cleaned, "<think>"); i >= 0 {
		cleaned = cleaned[:i]
	}
	return strings.TrimSpace(cleaned)
}

func (v SectionValidator) Validate(content, finishReason string) (string, error) {
	if finishReason != "" && finishReason != "stop" {
		return "", &ValidationError{Reason: fmt.Sprintf("generation ended with %q, not a natural stop", finishReason)}
	}

	cleaned := StripThink(content)
	if utf8.RuneCountInString(cleaned) < v.MinLength {
		return "", &ValidationError{Reason: fmt.Sprintf("content too short: %d chars", utf8.RuneCountInString(cleaned))}
	}
	for _, section := range v.RequiredSections {
		if !strings.Contains(cleaned, section) {
			return "", &ValidationError{Reason: fmt.Sprintf("missing section %q", section)}
		}
	}
	if reason, truncated := looksTruncated(cleaned); truncated {
		return "", &ValidationError{Reason: reason}
	}
	return cleaned, nil
}

// looksTruncated checks the tail of the content for signs of a cut-off
// generation.
func looksTruncated(content string) (string, bool) {
	// An odd number of code fences means one was never closed.
	if strings.Count(content, "```")%2 != 0 {
		return "dangling code fence", true
	}
	lines := strings.Split(content, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if strings.HasSuffix(last, "...") || strings.HasSuffix(last, "…") {
		return "content ends mid-sentence", true
	}
	return "", false
}
