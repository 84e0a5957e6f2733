// internal/domain/notification/channel.go
package notification

import (
	"context"
	"errors"
	"fmt"
)

// Outcome classifies a delivery attempt.
type Outcome string

const (
	OutcomeDelivered        Outcome = "DELIVERED"
	OutcomeTransientFailure Outcome = "TRANSIENT_FAILURE" // network, timeout, rate limiting
	OutcomePermanentFailure Outcome = "PERMANENT_FAILURE" // recipient blocked or unreachable
)

// Result is what a Channel reports for one Send.
type Result struct {
	Outcome Outcome
	Reason  string
	Err     error
}

func Delivered() Result { return Result{Outcome: OutcomeDelivered} }

func Transient(reason string, err error) Result {
	return Result{Outcome: OutcomeTransientFailure, Reason: reason, Err: err}
}

func Permanent(reason string, err error) Result {
	return Result{Outcome: OutcomePermanentFailure, Reason: reason, Err: err}
}

func (r Result) String() string {
	if r.Outcome == OutcomeDelivered {
		return string(r.Outcome)
	}
	return fmt.Sprintf("%s (%s)", r.Outcome, r.Reason)
}

// Channel delivers a text message to a subject.
// Implementations must respect ctx cancellation; the caller bounds every call with a timeout.
type Channel interface {
	Send(ctx context.Context, subjectID string, text string) Result
}

// FromContextError maps a cancelled or expired context to a transient result.
func FromContextError(err error) (Result, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient("timeout", err), true
	}
	if errors.Is(err, context.Canceled) {
		return Transient("cancelled", err), true
	}
	return Result{}, false
}
