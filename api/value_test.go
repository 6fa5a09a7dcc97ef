package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueTruthiness(t *testing.T) {
	assert.False(t, Null().IsTruthy())
	assert.False(t, Bool(false).IsTruthy())
	assert.True(t, Bool(true).IsTruthy())
	assert.True(t, Int32(0).IsTruthy(), "zero is truthy; only Null/false are falsy")
	assert.True(t, String("").IsTruthy())
}

func TestArithNumericPromotion(t *testing.T) {
	// int32 + int32 stays int32.
	v, err := Arith(Add, Int32(2), Int32(3))
	require.NoError(t, err)
	assert.Equal(t, Int32(5), v)

	// either side int64 widens the result to int64.
	v, err = Arith(Add, Int32(2), Int64(3))
	require.NoError(t, err)
	assert.Equal(t, Int64(5), v)

	// either side float widens to float64.
	v, err = Arith(Add, Int32(2), Float32(0.5))
	require.NoError(t, err)
	assert.Equal(t, Float64(2.5), v)
}

func TestArithDivideByZero(t *testing.T) {
	_, err := Arith(Div, Int32(1), Int32(0))
	require.Error(t, err)
	e, ok := AsError(err, DivideByZero)
	require.True(t, ok)
	assert.Equal(t, DivideByZero, e.Kind)

	_, err = Arith(Div, Float64(1), Float64(0))
	require.Error(t, err)
	_, ok = AsError(err, DivideByZero)
	require.True(t, ok)
}

func TestArithIntDivRequiresIntegers(t *testing.T) {
	_, err := Arith(IntDiv, Float64(1), Int32(2))
	require.Error(t, err)
	_, ok := AsError(err, TypeMismatch)
	assert.True(t, ok)

	v, err := Arith(IntDiv, Int32(7), Int32(2))
	require.NoError(t, err)
	assert.Equal(t, Int32(3), v)
}

func TestArithInt32Wraparound(t *testing.T) {
	v, err := Arith(Add, Int32(2147483647), Int32(1))
	require.NoError(t, err)
	assert.Equal(t, Int32(-2147483648), v)
}

func TestArithVectorElementwise(t *testing.T) {
	a := Value{Kind: KindVector, Ref: &Vector{Data: []float64{1, 2, 3}}}
	b := Value{Kind: KindVector, Ref: &Vector{Data: []float64{4, 5, 6}}}
	v, err := Arith(Add, a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 7, 9}, v.Ref.(*Vector).Data)

	mismatched := Value{Kind: KindVector, Ref: &Vector{Data: []float64{1}}}
	_, err = Arith(Add, a, mismatched)
	require.Error(t, err)
}

func TestArithMatrixMul(t *testing.T) {
	a := Value{Kind: KindMatrix, Ref: &Matrix{Rows: 2, Cols: 2, Data: []float64{1, 2, 3, 4}}}
	b := Value{Kind: KindMatrix, Ref: &Matrix{Rows: 2, Cols: 2, Data: []float64{5, 6, 7, 8}}}
	v, err := Arith(Mul, a, b)
	require.NoError(t, err)
	res := v.Ref.(*Matrix)
	assert.Equal(t, []float64{19, 22, 43, 50}, res.Data)
}

func TestArithMatrixVectorMul(t *testing.T) {
	m := Value{Kind: KindMatrix, Ref: &Matrix{Rows: 2, Cols: 2, Data: []float64{1, 0, 0, 1}}}
	vec := Value{Kind: KindVector, Ref: &Vector{Data: []float64{3, 4}}}
	v, err := Arith(Mul, m, vec)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, v.Ref.(*Vector).Data)
}

func TestArithQuaternionHamiltonProduct(t *testing.T) {
	a := &Quaternion{W: 1, X: 0, Y: 1, Z: 0}
	b := &Quaternion{W: 1, X: 0.5, Y: 0.5, Z: 0.75}
	v, err := Arith(Mul, Value{Kind: KindQuaternion, Ref: a}, Value{Kind: KindQuaternion, Ref: b})
	require.NoError(t, err)
	q := v.Ref.(*Quaternion)
	assert.InDelta(t, 0.5, q.W, 1e-9)
	assert.InDelta(t, 1.25, q.X, 1e-9)
	assert.InDelta(t, 1.5, q.Y, 1e-9)
	assert.InDelta(t, 0.25, q.Z, 1e-9)
}

func TestArithNeg(t *testing.T) {
	v, err := Arith(Neg, Int64(5), Value{})
	require.NoError(t, err)
	assert.Equal(t, Int64(-5), v)

	_, err = Arith(Neg, String("x"), Value{})
	require.Error(t, err)
}

func TestEqualCrossNumericKind(t *testing.T) {
	assert.True(t, Equal(Int32(3), Int64(3)))
	assert.True(t, Equal(Int32(3), Float64(3)))
	assert.False(t, Equal(Int32(3), Int32(4)))
}

func TestEqualObjectIdentity(t *testing.T) {
	objA := Value{Kind: KindObject, Ref: &Object{TypeName: "Point"}}
	objB := Value{Kind: KindObject, Ref: &Object{TypeName: "Point"}}
	assert.True(t, Equal(objA, objA))
	assert.False(t, Equal(objA, objB), "two distinct Object pointers are never equal, even with identical fields")
}

func TestCmpTotalOrder(t *testing.T) {
	lt, err := Cmp(Int32(1), Int32(2))
	require.NoError(t, err)
	assert.Equal(t, -1, lt)

	gt, err := Cmp(Float64(2), Int32(1))
	require.NoError(t, err)
	assert.Equal(t, 1, gt)

	eq, err := Cmp(String("a"), String("a"))
	require.NoError(t, err)
	assert.Equal(t, 0, eq)

	_, err = Cmp(Bool(true), Int32(1))
	require.Error(t, err)
	_, ok := AsError(err, TypeMismatch)
	assert.True(t, ok)
}

func TestBitwiseShiftsWrapByWidth(t *testing.T) {
	v, err := Bitwise(Shl, Int32(1), Int32(33))
	require.NoError(t, err)
	// shift count wraps modulo 32 for an Int32 operand, so 33 behaves like 1.
	assert.Equal(t, Int32(2), v)

	v, err = Bitwise(BNot, Int32(0), Value{})
	require.NoError(t, err)
	assert.Equal(t, Int32(-1), v)
}

func TestBitwiseRequiresIntegers(t *testing.T) {
	_, err := Bitwise(BAnd, Float64(1), Int32(1))
	require.Error(t, err)
	_, ok := AsError(err, TypeMismatch)
	assert.True(t, ok)
}

func TestLogicalNot(t *testing.T) {
	v, err := LogicalNot(Bool(false))
	require.NoError(t, err)
	assert.Equal(t, Bool(true), v)

	v, err = LogicalNot(Null())
	require.NoError(t, err)
	assert.Equal(t, Bool(true), v)

	_, err = LogicalNot(Int32(1))
	require.Error(t, err)
}

func TestMapLinearScan(t *testing.T) {
	m := NewMap()
	m.Set(String("a"), Int32(1))
	m.Set(String("b"), Int32(2))
	m.Set(String("a"), Int32(3))
	assert.Equal(t, 2, m.Len())

	v, ok := m.Get(String("a"))
	require.True(t, ok)
	assert.Equal(t, Int32(3), v)

	m.Delete(String("a"))
	assert.Equal(t, 1, m.Len())
	_, ok = m.Get(String("a"))
	assert.False(t, ok)
}

func TestValueStringRendersArray(t *testing.T) {
	arr := NewArray([]Value{Int32(1), String("x")})
	assert.Equal(t, "[1, x]", arr.String())
}
