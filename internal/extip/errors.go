package extip

import (
	"fmt"
	"strings"
)

// ResolutionError means no consistent external address could be determined
// this round. Callers treat it as transient.
type ResolutionError struct {
	Answers []Answer
	Reason  string
}

func (e *ResolutionError) Error() string {
	var failed []string
	for _, a := range e.Answers {
		if a.Err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", a.Probe, a.Err))
		}
	}
	msg := "external ip resolution failed: " + e.Reason
	if len(failed) > 0 {
		msg += " [" + strings.Join(failed, "; ") + "]"
	}
	return msg
}
