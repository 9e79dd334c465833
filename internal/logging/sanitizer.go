package logging

import (
	"regexp"
)

// Sanitizer redacts credentials from log messages. Manager tokens travel in
// Authorization headers and occasionally in URLs, both are covered.
type Sanitizer struct {
	patterns []*regexp.Regexp
	redacted string
}

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Authorization headers
		`(?i)bearer\s+[a-zA-Z0-9._~+/=-]{8,}`,
		`(?i)basic\s+[a-zA-Z0-9+/=]{8,}`,
		// Tokens in query strings
		`(?i)([?&](?:token|access_token|api_key)=)[^&\s"']+`,
		// Credentials embedded in URLs
		`(?i)(https?://[^/\s:@]+:)[^/\s@]+(@)`,
		// Generic API keys
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{16,}`,
		// Generic secrets
		`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{16,}`,
		// Generic passwords
		`(?i)password["'\s:=]+[^\s"']{8,}`,
		// Generic tokens
		`(?i)token["'\s:=]+[a-zA-Z0-9._-]{16,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, pattern := range s.patterns {
		if pattern.NumSubexp() > 0 {
			result = pattern.ReplaceAllString(result, "${1}"+s.redacted+"${2}")
			continue
		}
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// SanitizeMap redacts values in a map.
func (s *Sanitizer) SanitizeMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			result[k] = s.Sanitize(val)
		case map[string]interface{}:
			result[k] = s.SanitizeMap(val)
		default:
			result[k] = v
		}
	}
	return result
}

// AddPattern adds a custom pattern.
func (s *Sanitizer) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	s.patterns = append(s.patterns, re)
	return nil
}

// AddLiteral redacts an exact value, typically the configured manager token.
func (s *Sanitizer) AddLiteral(value string) {
	if len(value) < 4 {
		return
	}
	s.patterns = append(s.patterns, regexp.MustCompile(regexp.QuoteMeta(value)))
}
