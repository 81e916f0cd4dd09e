package domain

import "strings"

// Retrieval limits for the k parameter.
const (
	MinK = 1
	MaxK = 50
)

// ValidateText checks raw ingestion text.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return NewValidationError("text", "", ErrEmptyText)
	}
	return nil
}

// NormalizeQuery trims a query and rejects it when nothing is left.
func NormalizeQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", NewValidationError("query", "", ErrEmptyQuery)
	}
	return q, nil
}

// ValidatePrompt checks a prompt before it is sent for generation.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return NewValidationError("prompt", "", ErrEmptyPrompt)
	}
	return nil
}

// ClampK forces k into [MinK, MaxK].
func ClampK(k int) int {
	if k < MinK {
		return MinK
	}
	if k > MaxK {
		return MaxK
	}
	return k
}
