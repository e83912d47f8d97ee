package feed

import (
	"errors"
	"fmt"
)

// ErrFatal matches a ConnectivityError raised after the reconnect budget is
// spent.
var ErrFatal = errors.New("feed: reconnect attempts exhausted")

// ConnectivityError is a transport-level failure. Non-fatal ones drive the
// reconnect policy; a fatal one parks the client until Reconnect.
type ConnectivityError struct {
	Symbol  string
	Token   string
	Attempt int
	Err     error
	Fatal   bool
}

func (e *ConnectivityError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("feed: %s: giving up after %d reconnect attempts: %v", e.Symbol, e.Attempt, e.Err)
	}
	return fmt.Sprintf("feed: %s: connect attempt %d: %v", e.Symbol, e.Attempt, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

func (e *ConnectivityError) Is(target error) bool {
	return e.Fatal && target == ErrFatal
}

// DecodeError is a single undecodable feed frame. It is logged and dropped.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	raw := e.Raw
	if len(raw) > 128 {
		raw = raw[:128]
	}
	return fmt.Sprintf("feed: decode %q: %v", raw, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
