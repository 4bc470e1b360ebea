package blob

import (
	"context"
	"errors"
	"net"

	"github.com/minio/minio-go/v7"
)

// Adapter-level classifications. The access controller maps these onto
// caller-facing statuses without leaking raw upstream diagnostics.
var (
	// ErrNotConfigured is returned when object storage credentials are
	// absent from the configuration.
	ErrNotConfigured = errors.New("blob storage not configured")
	// ErrCredentialsRejected covers auth failures from the object store.
	ErrCredentialsRejected = errors.New("blob storage rejected credentials")
	// ErrRateLimited is the upstream throttling signal.
	ErrRateLimited = errors.New("blob storage rate limited")
	// ErrNetworkUnavailable covers timeouts, resets, and DNS failures.
	ErrNetworkUnavailable = errors.New("blob storage unreachable")
	// ErrUpstream covers server-side failures (5xx class).
	ErrUpstream = errors.New("blob storage upstream error")
	// ErrObjectNotFound is returned when the key has no object behind it.
	ErrObjectNotFound = errors.New("blob object not found")
)

// classify maps a raw minio/network error onto the adapter taxonomy. The raw
// error stays wrapped so non-production configurations can surface it.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wrap(ErrNetworkUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return wrap(ErrNetworkUnavailable, err)
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return wrap(ErrObjectNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return wrap(ErrCredentialsRejected, err)
	case "SlowDown", "TooManyRequests":
		return wrap(ErrRateLimited, err)
	}
	switch {
	case resp.StatusCode == 429:
		return wrap(ErrRateLimited, err)
	case resp.StatusCode >= 500:
		return wrap(ErrUpstream, err)
	case resp.StatusCode == 403 || resp.StatusCode == 401:
		return wrap(ErrCredentialsRejected, err)
	case resp.StatusCode == 404:
		return wrap(ErrObjectNotFound, err)
	}
	// Anything unrecognized is treated as an upstream fault.
	return wrap(ErrUpstream, err)
}

// transient reports whether a classified failure is worth one more attempt.
// Auth and malformed-request failures are final.
func transient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, ErrUpstream)
}

type classifiedError struct {
	class error
	cause error
}

func (e *classifiedError) Error() string { return e.class.Error() + ": " + e.cause.Error() }

func (e *classifiedError) Is(target error) bool { return target == e.class }

func (e *classifiedError) Unwrap() error { return e.cause }

func wrap(class, cause error) error {
	return &classifiedError{class: class, cause: cause}
}
