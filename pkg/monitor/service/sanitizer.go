package service

import "strings"

const redactedPlaceholder = "[REDACTED]"

// DefaultRedactKeys is the built-in deny-list of data key names whose
// values are redacted before an event leaves the process. Matching is
// case-insensitive on key substrings.
var DefaultRedactKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"credit_card",
	"private_key",
	"ssn",
}

type Sanitizer struct {
	deny []string
}

func NewSanitizer(extraKeys []string) *Sanitizer {
	deny := make([]string, 0, len(DefaultRedactKeys)+len(extraKeys))
	for _, key := range DefaultRedactKeys {
		deny = append(deny, key)
	}
	for _, key := range extraKeys {
		deny = append(deny, strings.ToLower(key))
	}
	return &Sanitizer{deny: deny}
}

// Sanitize returns a deep copy of data with denied values replaced.
// The input map is never mutated: events are immutable once built, and
// the caller keeps ownership of what it passed in.
func (s *Sanitizer) Sanitize(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		if s.denied(key) {
			out[key] = redactedPlaceholder
			continue
		}
		out[key] = s.sanitizeValue(value)
	}
	return out
}

func (s *Sanitizer) sanitizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return s.Sanitize(typed)
	case []any:
		out := make([]any, len(typed))
		for i, element := range typed {
			out[i] = s.sanitizeValue(element)
		}
		return out
	default:
		return value
	}
}

func (s *Sanitizer) denied(key string) bool {
	lowered := strings.ToLower(key)
	for _, deny := range s.deny {
		if strings.Contains(lowered, deny) {
			return true
		}
	}
	return false
}
