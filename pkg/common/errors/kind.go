package errors

import "errors"

type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

type classifiedError struct {
	kind Kind
	err  error
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Transient marks err as safe to retry: store unavailable, lock contention, timeouts.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: KindTransient, err: err}
}

// Permanent marks err as never succeeding on retry: malformed input, missing references.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: KindPermanent, err: err}
}

// KindOf returns the outermost classification found in the chain.
func KindOf(err error) Kind {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.kind
	}
	return KindUnknown
}

func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}
