package retry

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type State string

const (
	StateDelivered    State = "delivered"
	StateRetrying     State = "retrying"
	StateAcked        State = "acked"
	StateDeadLettered State = "dead_lettered"
)

func (s State) Terminal() bool {
	return s == StateAcked || s == StateDeadLettered
}

var ErrInvalidTransition = errors.New("invalid delivery state transition")

// Delivery tracks one message through Delivered -> Acked, or
// Delivered -> Retrying -> Delivered ..., or -> DeadLettered.
type Delivery struct {
	EventID       string
	State         State
	Attempt       int
	LastError     error
	LastAttemptAt time.Time
	NextAttemptIn time.Duration
}

// Deliver starts tracking the attempt-th delivery of eventID. Attempts are
// 1-based.
func Deliver(eventID string, attempt int, now time.Time) *Delivery {
	if attempt < 1 {
		attempt = 1
	}
	return &Delivery{
		EventID:       eventID,
		State:         StateDelivered,
		Attempt:       attempt,
		LastAttemptAt: now,
	}
}

// Verdict is what the consumer decided about a delivery.
type Verdict int

const (
	VerdictAck Verdict = iota
	// VerdictRetry is a transient failure.
	VerdictRetry
	// VerdictReject is a failure no retry can fix.
	VerdictReject
)

// Settle takes a fresh delivery through the transition its verdict calls
// for. Every verdict is valid from Delivered, so it has no error to report.
func Settle(eventID string, attempt int, now time.Time, verdict Verdict, cause error, policy Policy) Delivery {
	d := Deliver(eventID, attempt, now)
	switch verdict {
	case VerdictAck:
		d.State = StateAcked
	case VerdictRetry:
		d.fail(cause, policy)
	default:
		d.reject(cause)
	}
	return *d
}

func (d *Delivery) Ack() error {
	if err := d.expect(StateDelivered); err != nil {
		return err
	}
	d.State = StateAcked
	return nil
}

// Fail records a transient failure. It moves to Retrying while the policy
// allows another attempt and to DeadLettered once attempts are exhausted.
func (d *Delivery) Fail(cause error, policy Policy) error {
	if err := d.expect(StateDelivered); err != nil {
		return err
	}
	d.fail(cause, policy)
	return nil
}

func (d *Delivery) fail(cause error, policy Policy) {
	d.LastError = cause
	if policy.Exhausted(d.Attempt) {
		d.State = StateDeadLettered
		d.NextAttemptIn = 0
		return
	}
	d.State = StateRetrying
	d.NextAttemptIn = policy.Delay(d.Attempt)
}

// Reject dead-letters immediately, for failures that no retry can fix.
func (d *Delivery) Reject(cause error) error {
	if err := d.expect(StateDelivered, StateRetrying); err != nil {
		return err
	}
	d.reject(cause)
	return nil
}

func (d *Delivery) reject(cause error) {
	d.LastError = cause
	d.State = StateDeadLettered
	d.NextAttemptIn = 0
}

// Redeliver moves a retrying delivery back to Delivered as the next attempt.
func (d *Delivery) Redeliver(now time.Time) error {
	if err := d.expect(StateRetrying); err != nil {
		return err
	}
	d.State = StateDelivered
	d.Attempt++
	d.LastAttemptAt = now
	d.NextAttemptIn = 0
	return nil
}

func (d *Delivery) expect(states ...State) error {
	for _, s := range states {
		if d.State == s {
			return nil
		}
	}
	return errors.Wrap(ErrInvalidTransition, fmt.Sprintf("event %s is %s", d.EventID, d.State))
}
