package bridge

import (
	"errors"
	"fmt"
)

// Error codes reported by the bridge client
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeServerError  = "server_error"
	ErrCodeNetworkError = "network_error"
	ErrCodeInvalidData  = "invalid_data"
	ErrCodeCircuitOpen  = "circuit_open"
	ErrCodeUnknown      = "unknown"
)

// Sentinel errors matched with errors.Is
var (
	ErrNotFound     = errors.New("odds not found")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrServerError  = errors.New("bridge server error")
	ErrNetworkError = errors.New("network error")
	ErrInvalidData  = errors.New("invalid odds payload")
	ErrCircuitOpen  = errors.New("circuit breaker open")
)

// Error describes a failed bridge call
type Error struct {
	Code    string
	RaceKey string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	msg := "odds bridge: " + e.Code
	if e.RaceKey != "" {
		msg += " race=" + e.RaceKey
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error code so callers need not inspect Code
func (e *Error) Is(target error) bool {
	switch e.Code {
	case ErrCodeNotFound:
		return target == ErrNotFound
	case ErrCodeRateLimited:
		return target == ErrRateLimited
	case ErrCodeServerError:
		return target == ErrServerError
	case ErrCodeNetworkError:
		return target == ErrNetworkError
	case ErrCodeInvalidData:
		return target == ErrInvalidData
	case ErrCodeCircuitOpen:
		return target == ErrCircuitOpen
	}
	return false
}

func newError(code, raceKey string, status int, err error) *Error {
	return &Error{Code: code, RaceKey: raceKey, Status: status, Err: err}
}

// errorForStatus maps a non-2xx bridge response to an error
func errorForStatus(raceKey string, status int, body string) *Error {
	var code string
	switch {
	case status == 404:
		code = ErrCodeNotFound
	case status == 429:
		code = ErrCodeRateLimited
	case status >= 500:
		code = ErrCodeServerError
	default:
		code = ErrCodeUnknown
	}
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return newError(code, raceKey, status, err)
}
