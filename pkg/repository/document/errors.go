package document

import (
	"fmt"
	"strings"
)

// ValidationError reports every schema violation found on a write, one
// message per failing field.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// ConcurrentModificationError is returned by RUCC when the document kept
// changing underneath the reader for the whole retry budget.
type ConcurrentModificationError struct {
	ID       interface{}
	Attempts int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("document %s was modified concurrently; gave up after %d attempts", IDString(e.ID), e.Attempts)
}

// RestrictedOperatorError is returned when an aggregation pipeline uses a
// denylisted stage or expression operator.
type RestrictedOperatorError struct {
	Operator string
}

func (e *RestrictedOperatorError) Error() string {
	return e.Operator + " is restricted."
}
