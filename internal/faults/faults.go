// Package faults holds the typed errors a task can end with.
//
// Every task-level failure is folded into a record's status and message.
// Only KindConfig errors ever escape to the caller of the scheduler loop.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig: settings or a persisted document failed validation.
	KindConfig
	// KindCredential: the target reference did not resolve against the pool.
	KindCredential
	// KindNotFound: no active container, or no widget matched.
	KindNotFound
	// KindTransport: network failure, timeout, proxy failure.
	KindTransport
	// KindRemote: non-2xx status or malformed body from the target.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindCredential:
		return "credential"
	case KindNotFound:
		return "not_found"
	case KindTransport:
		return "transport"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Error is the typed task error.
type Error struct {
	Kind   Kind
	Op     string
	Status int // HTTP status for KindRemote, 0 otherwise
	Err    error
}

func (e *Error) Error() string {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Status > 0 && e.Op != "":
		return fmt.Sprintf("%s: HTTP %d %s", e.Op, e.Status, msg)
	case e.Status > 0:
		return fmt.Sprintf("HTTP %d %s", e.Status, msg)
	case e.Op != "":
		return e.Op + ": " + msg
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// AuthRejected reports a 401/403 from the target. Such errors still consume
// retries like any other remote rejection.
func (e *Error) AuthRejected() bool {
	return e.Kind == KindRemote && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

func newErr(k Kind, op string, err error) error {
	return &Error{Kind: k, Op: op, Err: err}
}

func Config(op string, err error) error     { return newErr(KindConfig, op, err) }
func Credential(op string, err error) error { return newErr(KindCredential, op, err) }
func NotFound(op string, err error) error   { return newErr(KindNotFound, op, err) }
func Transport(op string, err error) error  { return newErr(KindTransport, op, err) }

func Configf(format string, a ...any) error {
	return newErr(KindConfig, "", fmt.Errorf(format, a...))
}

func NotFoundf(op, format string, a ...any) error {
	return newErr(KindNotFound, op, fmt.Errorf(format, a...))
}

func Remote(op string, status int, err error) error {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	return &Error{Kind: KindRemote, Op: op, Status: status, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }

func IsAuthRejected(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.AuthRejected()
}

// Retryable reports whether another attempt could succeed.
// Credential and config failures are permanent; so is anything wrapped with NoRetry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsNoRetry(err) {
		return false
	}
	switch KindOf(err) {
	case KindConfig, KindCredential:
		return false
	}
	return true
}

// NoRetry marks an error as non-retryable.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return e.err.Error() }
func (e noRetryError) Unwrap() error { return e.err }
