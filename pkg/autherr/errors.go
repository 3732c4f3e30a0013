// Package autherr defines the failure taxonomy surfaced to host applications.
//
// Every error returned by the SDK can be classified with KindOf. Errors coming
// from the API client carry their own classification through the Kinder
// interface, everything else is wrapped in *Error.
package autherr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the coarse category of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration is a missing or invalid client setup. Never retried.
	KindConfiguration
	// KindAuthentication covers bad credentials, cancellation, MFA and
	// missing sessions.
	KindAuthentication
	// KindNetwork is a transport failure or a 5xx from the server.
	KindNetwork
	// KindDecoding is a malformed server payload. It belongs to the network
	// class when deciding how to react.
	KindDecoding
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindNetwork:
		return "network"
	case KindDecoding:
		return "decoding"
	default:
		return "unknown"
	}
}

// Authentication reasons.
var (
	ErrCanceled           = errors.New("autherr: canceled by user")
	ErrNotAuthenticated   = errors.New("autherr: not authenticated")
	ErrInvalidCredentials = errors.New("autherr: invalid credentials")
	ErrMFARequired        = errors.New("autherr: mfa required")
)

// Error is a classified failure of an SDK operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kinder is implemented by errors that know their own classification.
type Kinder interface {
	Kind() Kind
}

// New wraps err with a kind and the operation that failed.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configuration returns a configuration error for op.
func Configuration(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// Network wraps a transport failure.
func Network(op string, err error) error { return New(KindNetwork, op, err) }

// Decoding wraps a payload decoding failure.
func Decoding(op string, err error) error { return New(KindDecoding, op, err) }

// Authentication wraps an authentication failure.
func Authentication(op string, err error) error { return New(KindAuthentication, op, err) }

// KindOf walks the chain of err and returns the first classification found.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	var k Kinder
	if errors.As(err, &k) {
		return k.Kind()
	}

	if errors.Is(err, ErrCanceled) || errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrMFARequired) {
		return KindAuthentication
	}

	return KindUnknown
}

func IsConfiguration(err error) bool { return KindOf(err) == KindConfiguration }

func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }

// IsNetwork reports network class failures, which include decoding errors.
func IsNetwork(err error) bool {
	k := KindOf(err)
	return k == KindNetwork || k == KindDecoding
}

// IsCanceled reports whether err is a user cancellation or an abandoned
// context.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}
