package scatter

import "fmt"

// FailurePolicy decides what happens to a group when one of its pieces fails.
type FailurePolicy int

const (
	// AbortGroup discards the group at its first failed piece and reports the
	// key as failed. No partial payload is ever emitted.
	AbortGroup FailurePolicy = iota
	// SkipPartial keeps gathering the other pieces and emits the payload
	// without the failed ones, listing them in Result.Missing.
	SkipPartial
)

func (p FailurePolicy) String() string {
	switch p {
	case AbortGroup:
		return "abort-group"
	case SkipPartial:
		return "skip-partial"
	}
	return fmt.Sprintf("FailurePolicy(%d)", int(p))
}

// ParseFailurePolicy reads the String form of a policy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "abort-group", "abort":
		return AbortGroup, nil
	case "skip-partial", "skip":
		return SkipPartial, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
}

func (p FailurePolicy) validate() error {
	if p != AbortGroup && p != SkipPartial {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, p)
	}
	return nil
}
