package posts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
)

// Kind names a failure variant.
type Kind string

const (
	// KindAPI marks an unsuccessful or bodiless server response.
	KindAPI Kind = "api"
	// KindNetwork marks a failed exchange with the server.
	KindNetwork Kind = "network"
	// KindUnknown marks every other failure.
	KindUnknown Kind = "unknown"
)

// Failure is the closed set of errors returned by Repository operations.
// Its only implementations are *APIError, NetworkError and UnknownError.
type Failure interface {
	error
	Kind() Kind
	sealed()
}

// APIError reports that the remote service answered unsuccessfully or without a body.
type APIError struct {
	StatusCode    int
	StatusMessage string
}

// NewAPIError builds an APIError for the given response status.
func NewAPIError(statusCode int, statusMessage string) *APIError {
	return &APIError{StatusCode: statusCode, StatusMessage: statusMessage}
}

// Error renders the status code and message.
func (e *APIError) Error() string {
	return fmt.Sprintf("posts: api error %d %s", e.StatusCode, e.StatusMessage)
}

// Kind returns KindAPI.
func (e *APIError) Kind() Kind { return KindAPI }
func (*APIError) sealed()      {}

// NetworkError reports that the exchange with the remote service could not complete.
type NetworkError struct{}

// Error implements error.
func (NetworkError) Error() string { return "posts: network error" }

// Kind returns KindNetwork.
func (NetworkError) Kind() Kind { return KindNetwork }

func (NetworkError) sealed() {}

// UnknownError reports any other failure, including a like target missing locally.
type UnknownError struct{}

// Error implements error.
func (UnknownError) Error() string { return "posts: unknown error" }

// Kind returns KindUnknown.
func (UnknownError) Kind() Kind { return KindUnknown }

func (UnknownError) sealed() {}

var (
	// ErrNetwork is the NetworkError value; compare with errors.Is.
	ErrNetwork Failure = NetworkError{}
	// ErrUnknown is the UnknownError value; compare with errors.Is.
	ErrUnknown Failure = UnknownError{}

	errPostNotFound  = errors.New("post not found in current snapshot")
	errMissingStore  = errors.New("local store dependency required")
	errMissingRemote = errors.New("remote service dependency required")
)

// Classify maps any error raised while talking to the store or the remote
// service onto one of the three failure variants. nil maps to nil.
func Classify(err error) Failure {
	if err == nil {
		return nil
	}

	var failure Failure
	if errors.As(err, &failure) {
		return failure
	}
	if isTransportError(err) {
		return ErrNetwork
	}
	return ErrUnknown
}

func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
