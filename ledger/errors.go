package ledger

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

var (
	// ErrNotConfirmed means a transaction was submitted but inclusion was
	// not observed within the confirmation window. The outcome is unknown:
	// callers must re-read authoritative state before retrying, never
	// resubmit blindly.
	ErrNotConfirmed = errors.New("transaction not confirmed in time")
)

// IsNotConfirmed reports whether err is a confirmation timeout.
func IsNotConfirmed(err error) bool {
	return errors.Cause(err) == ErrNotConfirmed
}

// RevertError is a business rejection by the ledger program. The reason
// string, when present, is surfaced verbatim to the user.
type RevertError struct {
	Method string
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s reverted: %s", e.Method, e.Reason)
	}

	return fmt.Sprintf("%s reverted", e.Method)
}

// IsReverted reports whether err is a ledger-level rejection.
func IsReverted(err error) bool {
	_, ok := errors.Cause(err).(*RevertError)
	return ok
}

// TransientError wraps a network-level failure. Read calls may be retried
// with backoff on it; write submissions must never be.
type TransientError struct {
	Inner error
}

func (e *TransientError) Error() string {
	return "transient ledger error: " + e.Inner.Error()
}

// IsTransient reports whether err is worth a bounded read retry.
func IsTransient(err error) bool {
	_, ok := errors.Cause(err).(*TransientError)
	return ok
}

// RequestError is a non-200 API response carrying the node's status and
// error fields.
type RequestError struct {
	Status      string `json:"status"`
	ErrorString string `json:"error"`

	ResponseBody []byte
	StatusCode   int
}

func ParseRequestError(b []byte) *RequestError {
	var parser fastjson.Parser
	var e RequestError

	v, err := parser.ParseBytes(b)
	if err != nil {
		return nil
	}

	e.Status = string(v.GetStringBytes("status"))
	e.ErrorString = string(v.GetStringBytes("error"))

	if e.Status == "" && e.ErrorString == "" {
		return nil
	}

	return &e
}

func (e *RequestError) Error() string {
	if e.ErrorString != "" {
		return e.ErrorString
	}

	return fmt.Sprintf("unexpected error code %d. response body: %s", e.StatusCode, e.ResponseBody)
}
