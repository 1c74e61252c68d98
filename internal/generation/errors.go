package generation

import (
	"encoding/json"
	"errors"
	"fmt"

	"examforge/internal/providers"
)

type Kind string

const (
	KindPlanning    Kind = "planning"
	KindService     Kind = "service"
	KindTimeout     Kind = "timeout"
	KindParse       Kind = "parse"
	KindPersistence Kind = "persistence"
	KindDispatch    Kind = "dispatch"
)

var (
	ErrEmptyResponse = errors.New("generation service returned an empty response")
	ErrNoItems       = errors.New("response parsed to zero items")
	// ErrParse marks failures of the response parser.
	ErrParse = errors.New("malformed generation response")
)

// Error carries the failure class a batch ended with. Attempts is set by the
// retry executor to the number of calls that were made.
type Error struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s error after %d attempts: %v", e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the class of err, classifying unclassified errors on the fly.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return Classify(err)
}

// Classify maps a raw failure from the call or parse stage to a retryable class.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.Is(err, ErrParse) || errors.Is(err, ErrNoItems) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindParse
	}
	if providers.ClassifyError(err) == providers.ErrorTimeout {
		return KindTimeout
	}
	return KindService
}
