package broker

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoPosition is reported by ClosePosition when there is nothing to close.
var ErrNoPosition = errors.New("no open position")

// ErrOrderCancelled is wrapped when the broker accepted the request but
// killed the order instead of filling it.
var ErrOrderCancelled = errors.New("order cancelled")

// Error is returned by a Gateway when the broker answers with a non-success
// status or cannot be reached. StatusCode is 0 for transport failures and
// timeouts. Body carries the broker's response verbatim.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("broker %s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("broker %s: http %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether repeating an idempotent call could succeed.
func (e *Error) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}
