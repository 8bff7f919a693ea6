package poller

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Status is the health state an [Extractor] reads from a response.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"

	// StatusUnknown means the extractor could not read a status from the
	// response.
	StatusUnknown Status = "unknown"
)

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }

// Extractor determines a [Status] from an HTTP response body and status code.
//
// Extractors are called within a panic recovery boundary: a panicking
// extractor turns the check into a defect carrying a correlation ID, and the
// stack trace is logged server-side.
type Extractor func(body []byte, statusCode int) Status

// HTTPStatusExtractor reads the status from the HTTP status code alone:
// 2xx is up, 4xx is degraded and everything else is down.
var HTTPStatusExtractor Extractor = func(body []byte, statusCode int) Status {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusUp
	case statusCode >= 400 && statusCode < 500:
		return StatusDegraded
	default:
		return StatusDown
	}
}

// JSONFieldExtractor returns an [Extractor] that reads the JSON field at path,
// a dot separated list of object keys such as "data.health.status".
//
// Common health words map to up ("ok", "healthy", "pass", ...) or degraded
// ("warning", "partial", ...); any other value is down. Booleans and the
// numbers 0 and 1 read as "false" and "true". A body that is not JSON, or
// has nothing at path, gives [StatusUnknown].
func JSONFieldExtractor(path string) Extractor {
	parts := strings.Split(path, ".")

	return func(body []byte, statusCode int) Status {
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return StatusUnknown
		}

		value := lookupJSONPath(data, parts)
		if value == "" {
			return StatusUnknown
		}

		return statusFromWord(strings.ToLower(value))
	}
}

func lookupJSONPath(data any, parts []string) string {
	current := data

	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = obj[part]
		if !ok {
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		switch v {
		case 0:
			return "false"
		case 1:
			return "true"
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func statusFromWord(s string) Status {
	switch s {
	case "ok", "healthy", "up", "active", "running", "pass", "passed", "true", "green", "none", "operational":
		return StatusUp
	case "degraded", "warning", "partial", "yellow", "amber":
		return StatusDegraded
	default:
		return StatusDown
	}
}

// RegexExtractor returns an [Extractor] that matches the body against
// pattern. The first capture group is up when it equals upMatch (ignoring
// case) and down otherwise. No match gives [StatusUnknown].
//
// Returns an error if the pattern is invalid.
func RegexExtractor(pattern string, upMatch string) (Extractor, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	return func(body []byte, statusCode int) Status {
		matches := re.FindSubmatch(body)
		if len(matches) < 2 {
			return StatusUnknown
		}
		if strings.EqualFold(string(matches[1]), upMatch) {
			return StatusUp
		}
		return StatusDown
	}, nil
}

// MustRegexExtractor is like [RegexExtractor] but panics if the pattern is
// invalid.
func MustRegexExtractor(pattern string, upMatch string) Extractor {
	extractor, err := RegexExtractor(pattern, upMatch)
	if err != nil {
		panic("poller: invalid regex pattern: " + err.Error())
	}
	return extractor
}

// ContainsExtractor returns an [Extractor] that is up when the body contains
// text (ignoring case) and down otherwise.
func ContainsExtractor(text string) Extractor {
	lower := strings.ToLower(text)
	return func(body []byte, statusCode int) Status {
		if strings.Contains(strings.ToLower(string(body)), lower) {
			return StatusUp
		}
		return StatusDown
	}
}

// FirstMatch returns an [Extractor] that tries extractors in order and
// returns the first status that is not [StatusUnknown].
func FirstMatch(extractors ...Extractor) Extractor {
	return func(body []byte, statusCode int) Status {
		for _, extractor := range extractors {
			if status := extractor(body, statusCode); status != StatusUnknown {
				return status
			}
		}
		return StatusUnknown
	}
}

// DefaultExtractor reads a top-level "status" JSON field and falls back to
// [HTTPStatusExtractor].
var DefaultExtractor = FirstMatch(
	JSONFieldExtractor("status"),
	HTTPStatusExtractor,
)
