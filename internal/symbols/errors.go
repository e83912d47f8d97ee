package symbols

import "errors"

// ErrNotFound means no cache or source knows the symbol.
var ErrNotFound = errors.New("symbol not found")

// ResolutionError reports a symbol that every source missed. It is never
// cached, so a later request retries the network sources.
type ResolutionError struct {
	Symbol string
}

func (e *ResolutionError) Error() string {
	return "resolve " + e.Symbol + ": " + ErrNotFound.Error()
}

func (e *ResolutionError) Unwrap() error { return ErrNotFound }
