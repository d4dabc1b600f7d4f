package response

import "regexp"

// piiPatterns are the bounded set of regexes the coordinator runs over a
// response body prefix to find values worth masking. Kept intentionally
// small and cheap: response analysis runs inside a hard millisecond budget
// in Blocking mode.
var piiPatterns = map[string]*regexp.Regexp{
	"email":       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
	"phone":       regexp.MustCompile(`\b\(?\d{3}\)?[ .\-]?\d{3}[ .\-]?\d{4}\b`),
}

// errorPatterns flag response bodies that look like leaked stack traces or
// framework error pages, a common scraping/probing tell (spec §4.10
// "response.pattern" signal).
var errorPatterns = map[string]*regexp.Regexp{
	"stack_trace":    regexp.MustCompile(`(?i)at\s+[\w.$]+\([\w.]+:\d+\)|Traceback \(most recent call last\)`),
	"sql_error":      regexp.MustCompile(`(?i)sql syntax|ORA-\d{5}|pg_query\(\)`),
	"framework_debug": regexp.MustCompile(`(?i)whoops|django debug|laravel\\\\exceptions`),
}

// maskPII replaces every match of every PII pattern with a fixed-width
// redaction marker naming the kind found, returning the masked body and
// the set of kinds it masked.
func maskPII(body []byte) ([]byte, []string) {
	found := make(map[string]struct{})
	out := body
	for kind, re := range piiPatterns {
		if re.Match(out) {
			found[kind] = struct{}{}
			out = re.ReplaceAll(out, []byte("[REDACTED:"+kind+"]"))
		}
	}
	kinds := make([]string, 0, len(found))
	for k := range found {
		kinds = append(kinds, k)
	}
	return out, kinds
}

// detectErrorPattern reports the first error-leak pattern found, if any.
func detectErrorPattern(body []byte) (string, bool) {
	for kind, re := range errorPatterns {
		if re.Match(body) {
			return kind, true
		}
	}
	return "", false
}
