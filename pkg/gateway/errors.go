package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a delivery failure for the retry policy.
type ErrorKind string

const (
	// KindTransient covers network timeouts, 5xx responses and other
	// failures worth retrying.
	KindTransient ErrorKind = "transient"

	// KindPermanent covers bad addresses, malformed URLs, 4xx responses
	// and exhausted retries. Permanent failures stop the run at the
	// failing step.
	KindPermanent ErrorKind = "permanent"
)

// DeliveryError is a classified side-effect failure.
type DeliveryError struct {
	Kind ErrorKind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery error: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Transient wraps an error as retryable.
func Transient(err error) error {
	return &DeliveryError{Kind: KindTransient, Err: err}
}

// Permanent wraps an error as not retryable.
func Permanent(err error) error {
	return &DeliveryError{Kind: KindPermanent, Err: err}
}

// Transientf is Transient with formatting.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// Permanentf is Permanent with formatting.
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsTransient reports whether the error is classified as retryable.
// Unclassified errors count as transient, so an adapter that forgets to
// classify never turns a recoverable blip into a dead run.
func IsTransient(err error) bool {
	var delivery *DeliveryError
	if errors.As(err, &delivery) {
		return delivery.Kind == KindTransient
	}

	return true
}

// IsPermanent reports whether the error is classified as not retryable.
func IsPermanent(err error) bool {
	var delivery *DeliveryError
	if errors.As(err, &delivery) {
		return delivery.Kind == KindPermanent
	}

	return false
}
