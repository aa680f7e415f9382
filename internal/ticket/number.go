package ticket

import (
	"fmt"
	"regexp"
	"time"
)

// Ticket numbers look like EML-20250101-0001: a per-tenant, per-day,
// zero-padded 4-digit sequence.

// DayPrefix returns the ticket-number prefix for the given day, e.g.
// "EML-20250101-".
func DayPrefix(t time.Time) string {
	return "EML-" + t.Format("20060102") + "-"
}

// FormatNumber builds a full ticket number from a day prefix and sequence.
func FormatNumber(prefix string, seq int) string {
	return fmt.Sprintf("%s%04d", prefix, seq)
}

// subjectNumberPatterns are the accepted ways a ticket number can be embedded
// in a reply subject. Evaluated in order, first match wins.
var subjectNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[(?:[Tt]icket\s*)?#?(EML-\d{8}-\d{4})\]`),
	regexp.MustCompile(`#(EML-\d{8}-\d{4})`),
	regexp.MustCompile(`(?i)^(?:re|fwd?):\s*.*?(EML-\d{8}-\d{4})`),
	regexp.MustCompile(`(EML-\d{8}-\d{4})`),
}

// NumberFromSubject extracts an embedded ticket number from an email subject,
// or returns "" if none is present.
func NumberFromSubject(subject string) string {
	for _, pattern := range subjectNumberPatterns {
		if m := pattern.FindStringSubmatch(subject); m != nil {
			return m[1]
		}
	}
	return ""
}
