package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsErrorUnwrapsWrappedCause(t *testing.T) {
	base := NewError(DivideByZero, "boom")
	wrapped := fmtErrorf(base)

	e, ok := AsError(wrapped, DivideByZero)
	require.True(t, ok)
	assert.Equal(t, base, e)

	_, ok = AsError(wrapped, TypeMismatch)
	assert.False(t, ok)
}

func fmtErrorf(cause error) error {
	return &wrapper{cause: cause}
}

type wrapper struct{ cause error }

func (w *wrapper) Error() string { return "wrapped: " + w.cause.Error() }
func (w *wrapper) Unwrap() error { return w.cause }

func TestAsErrorOnPlainError(t *testing.T) {
	_, ok := AsError(errors.New("not ours"), TypeMismatch)
	assert.False(t, ok)
}

func TestWrapHostCallErrorPreservesCause(t *testing.T) {
	cause := errors.New("host exploded")
	wrapped := WrapHostCallError("myHostFn", cause)
	assert.Equal(t, HostCallError, wrapped.Kind)
	assert.ErrorIs(t, wrapped.Unwrap(), cause)
}

func TestErrorToException(t *testing.T) {
	err := NewErrorf(NullReference, "field %s is null", "x")
	exc := err.ToException()
	require.Equal(t, KindException, exc.Kind)
	obj := exc.Ref.(*Object)
	assert.Equal(t, "NullReference", obj.TypeName)
	assert.Equal(t, String("field x is null"), obj.Fields["message"])
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "DivideByZero", DivideByZero.String())
	assert.Equal(t, "HostCallError", HostCallError.String())
}
