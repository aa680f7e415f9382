package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDayPrefix(t *testing.T) {
	day := time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "EML-20250101-", DayPrefix(day))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "EML-20250101-0001", FormatNumber("EML-20250101-", 1))
	assert.Equal(t, "EML-20250101-0042", FormatNumber("EML-20250101-", 42))
	assert.Equal(t, "EML-20250101-12345", FormatNumber("EML-20250101-", 12345))
}

func TestNumberFromSubject(t *testing.T) {
	testCases := []struct {
		name    string
		subject string
		want    string
	}{
		{"bracketed with ticket word", "Re: [Ticket #EML-20250101-0001] Help", "EML-20250101-0001"},
		{"bracketed bare", "[EML-20250101-0001] Help", "EML-20250101-0001"},
		{"hash prefixed", "About #EML-20250101-0002", "EML-20250101-0002"},
		{"reply prefixed", "Re: EML-20250101-0003 still broken", "EML-20250101-0003"},
		{"forward prefixed", "Fwd: your case EML-20250101-0004", "EML-20250101-0004"},
		{"bare number anywhere", "status of EML-20250101-0005 please", "EML-20250101-0005"},
		{"no number", "Need help", ""},
		{"malformed number", "Re: [Ticket #EML-2025-01] Help", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NumberFromSubject(tc.subject))
		})
	}
}
