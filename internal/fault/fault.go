package fault

import "errors"

// Kind classifies failures by how the engine reacts to them.
type Kind string

const (
	// Precondition is an expected skip (low population, low frame rate).
	Precondition Kind = "precondition"
	// Resource is a spawner or host component that is unavailable.
	Resource Kind = "resource"
	// Transport is a notification or bridge delivery failure.
	Transport Kind = "transport"
	// Config is a malformed configuration value.
	Config Kind = "config"
)

// Error marks operation failure with classification kind.
// Params: classification and wrapped root cause.
// Returns: typed classified error.
type Error struct {
	Kind Kind
	Err  error
}

// Error returns wrapped error message.
// Params: none.
// Returns: string representation.
func (e Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + " failure"
	}
	return e.Err.Error()
}

// Unwrap exposes wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// Mark wraps error with classification kind.
// Params: kind and source error.
// Returns: wrapped error or nil.
func Mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return Error{Kind: kind, Err: err}
}

// KindOf returns the outermost classification attached to error.
// Params: candidate error.
// Returns: kind and true when classified.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var tagged Error
	if !errors.As(err, &tagged) {
		return "", false
	}
	return tagged.Kind, true
}

// Is reports whether error carries given classification.
// Params: candidate error and kind.
// Returns: true when kind matches.
func Is(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}
