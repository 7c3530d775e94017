// Package dferr holds the error kinds shared by the fitting and testing
// packages. Every failure returned by the core wraps exactly one of the
// sentinel kinds below, so callers can branch with errors.Is and decide
// themselves whether to retry with relaxed tolerances.
package dferr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument reports malformed input: mismatched lengths, bad
	// bounds, a contrast column that does not sum to zero.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupportedConfiguration is an ErrInvalidArgument for option
	// combinations a model family cannot honour, e.g. placebo adjustment of a
	// logistic shape.
	ErrUnsupportedConfiguration = fmt.Errorf("%w: unsupported configuration", ErrInvalidArgument)
	// ErrDomain reports a dose outside the support of a shape.
	ErrDomain = errors.New("dose outside model domain")
	// ErrSingularMatrix reports a rank deficient design or a covariance matrix
	// that is not positive definite.
	ErrSingularMatrix = errors.New("singular matrix")
	// ErrFitFailure reports a local optimizer that did not converge.
	ErrFitFailure = errors.New("fit failure")
	// ErrIntegrationFailure reports a multivariate probability that could not
	// be computed within its tolerance or evaluation budget.
	ErrIntegrationFailure = errors.New("integration failure")
)

// Error attaches the failing model and stage to one of the sentinel kinds.
type Error struct {
	Kind  error
	Model string
	Stage string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Model != "" {
		b.WriteString(" [model ")
		b.WriteString(e.Model)
		b.WriteString("]")
	}
	if e.Stage != "" {
		b.WriteString(" [")
		b.WriteString(e.Stage)
		b.WriteString("]")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an error of the given kind raised in stage.
func New(kind error, stage, format string, args ...any) error {
	return &Error{Kind: kind, Stage: stage, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind raised in stage, caused by err.
func Wrap(kind error, stage string, err error) error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// WithModel tags err with the model it was raised for. Errors that are not
// *Error are wrapped first; a nil err stays nil.
func WithModel(err error, model string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		if e.Model == "" {
			c := *e
			c.Model = model
			return &c
		}
		return err
	}
	return &Error{Kind: err, Model: model}
}
