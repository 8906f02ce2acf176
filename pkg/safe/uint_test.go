package safe

import (
	"math"
	"testing"
)

type convTestCase[T any] struct {
	name    string
	v       T
	want    int64
	wantErr bool
}

func runUint32Case[T ~int | ~int32 | ~int64 | ~uint | ~uint64](t *testing.T, tc convTestCase[T]) {
	t.Helper()

	t.Run(tc.name, func(t *testing.T) {
		got, err := Uint32(tc.v)
		if (err != nil) != tc.wantErr {
			t.Errorf("Uint32() error = %v, wantErr %v", err, tc.wantErr)
			return
		}
		if int64(got) != tc.want {
			t.Errorf("Uint32() got = %v, want %v", got, tc.want)
		}
	})
}

func TestUint32(t *testing.T) {
	runUint32Case(t, convTestCase[int]{name: "int within range", v: 42, want: 42})
	runUint32Case(t, convTestCase[int]{name: "int negative", v: -1, wantErr: true})
	runUint32Case(t, convTestCase[int32]{name: "int32 negative", v: -5, wantErr: true})
	runUint32Case(t, convTestCase[int32]{name: "int32 positive", v: 123, want: 123})
	runUint32Case(t, convTestCase[int64]{name: "int64 overflow", v: int64(math.MaxUint32) + 1, wantErr: true})
	runUint32Case(t, convTestCase[int64]{name: "int64 boundary ok", v: int64(math.MaxUint32), want: math.MaxUint32})
	runUint32Case(t, convTestCase[uint64]{name: "uint64 overflow", v: uint64(math.MaxUint32) + 1, wantErr: true})
	runUint32Case(t, convTestCase[uint]{name: "uint small", v: 7, want: 7})
	runUint32Case(t, convTestCase[int64]{name: "zero", v: 0, want: 0})
}

func runInt32Case[T ~int | ~int64 | ~uint | ~uint32 | ~uint64](t *testing.T, tc convTestCase[T]) {
	t.Helper()

	t.Run(tc.name, func(t *testing.T) {
		got, err := Int32(tc.v)
		if (err != nil) != tc.wantErr {
			t.Errorf("Int32() error = %v, wantErr %v", err, tc.wantErr)
			return
		}
		if int64(got) != tc.want {
			t.Errorf("Int32() got = %v, want %v", got, tc.want)
		}
	})
}

func TestInt32(t *testing.T) {
	runInt32Case(t, convTestCase[uint32]{name: "uint32 within range", v: 99, want: 99})
	runInt32Case(t, convTestCase[uint32]{name: "uint32 overflow", v: math.MaxUint32, wantErr: true})
	runInt32Case(t, convTestCase[int64]{name: "int64 negative ok", v: -17, want: -17})
	runInt32Case(t, convTestCase[int64]{name: "int64 too negative", v: math.MinInt64, wantErr: true})
	runInt32Case(t, convTestCase[uint64]{name: "uint64 boundary ok", v: math.MaxInt32, want: math.MaxInt32})
	runInt32Case(t, convTestCase[uint64]{name: "uint64 overflow", v: math.MaxInt32 + 1, wantErr: true})
	runInt32Case(t, convTestCase[int]{name: "int zero", v: 0, want: 0})
}
