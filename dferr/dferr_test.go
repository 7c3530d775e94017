package dferr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnsupportedIsInvalidArgument(t *testing.T) {
	err := New(ErrUnsupportedConfiguration, "fit", "placebo adjustment for %s", "logistic")
	assert.ErrorIs(t, err, ErrUnsupportedConfiguration)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrDomain)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("nelder-mead: iteration limit")
	err := Wrap(ErrFitFailure, "local", cause)
	assert.ErrorIs(t, err, ErrFitFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "local")
}

func TestWithModel(t *testing.T) {
	err := WithModel(New(ErrDomain, "shape", "dose %g beyond scale %g", 5., 4.8), "betaMod")
	var e *Error
	if assert.ErrorAs(t, err, &e) {
		assert.Equal(t, "betaMod", e.Model)
	}
	assert.ErrorIs(t, err, ErrDomain)
	assert.Contains(t, err.Error(), "[model betaMod]")

	plain := WithModel(fmt.Errorf("boom"), "emax")
	assert.Contains(t, plain.Error(), "emax")
	assert.Nil(t, WithModel(nil, "emax"))
}
