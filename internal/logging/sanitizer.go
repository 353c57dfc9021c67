package logging

import (
	"regexp"
)

// Sanitizer redacts API credentials and precise field locations from log
// output. Grower coordinates are personal data; logs carry them only at a
// coarsened two-decimal precision.
type Sanitizer struct {
	secrets  []*regexp.Regexp
	coords   *regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with the default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		secrets:  secretPatterns(),
		coords:   regexp.MustCompile(`(-?\d{1,3}\.\d{3,})\s*,\s*(-?\d{1,3}\.\d{3,})`),
		redacted: "[REDACTED]",
	}
}

func secretPatterns() []*regexp.Regexp {
	patterns := []string{
		// Anthropic
		`sk-ant-[a-zA-Z0-9-]{40,}`,
		// OpenAI-style keys
		`sk-[A-Za-z0-9]{20,}`,
		// Generic Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Generic API keys
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic tokens
		`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts secrets and coarsens lat,lon pairs in a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.secrets {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	result = s.coords.ReplaceAllString(result, "[COORDS]")
	return result
}

// AddPattern adds a custom secret pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.secrets = append(s.secrets, re)
	return nil
}
