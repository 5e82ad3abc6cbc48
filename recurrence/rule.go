package recurrence

import (
	"fmt"

	"github.com/teambition/rrule-go"
)

// Validate checks that rruleStr is a parseable RRULE value.
func Validate(rruleStr string) error {
	if _, err := rrule.StrToROption(rruleStr); err != nil {
		return fmt.Errorf("invalid RRULE '%s': %w", rruleStr, err)
	}
	return nil
}

// RuleCount returns the COUNT part of rruleStr. ok is false when the rule has no COUNT.
func RuleCount(rruleStr string) (count int, ok bool, err error) {
	opt, err := rrule.StrToROption(rruleStr)
	if err != nil {
		return 0, false, fmt.Errorf("invalid RRULE '%s': %w", rruleStr, err)
	}
	return opt.Count, opt.Count > 0, nil
}

// WithCount returns rruleStr with its COUNT part set to n. The result is in the
// canonical part order of rrule-go, starting with FREQ.
func WithCount(rruleStr string, n int) (string, error) {
	opt, err := rrule.StrToROption(rruleStr)
	if err != nil {
		return "", fmt.Errorf("invalid RRULE '%s': %w", rruleStr, err)
	}
	opt.Count = n
	return opt.RRuleString(), nil
}
