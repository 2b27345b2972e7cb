package rhi

import (
	"errors"
	"fmt"
	"strconv"
	"testing"
)

func TestResultZeroIsSuccess(t *testing.T) {
	var r Result[int]
	if !r.IsSuccess() || r.Code() != Success || r.Err() != nil || r.Message() != "" {
		t.Errorf("zero Result = %+v, want success", r)
	}
}

func TestResultFail(t *testing.T) {
	r := Fail[string](InvalidArgument, "bad size")
	if r.IsSuccess() {
		t.Fatal("IsSuccess() = true")
	}
	if r.Code() != InvalidArgument || r.Message() != "bad size" {
		t.Errorf("Code, Message = %s, %q", r.Code(), r.Message())
	}
	if v := r.Value(); v != "" {
		t.Errorf("Value() = %q, want zero", v)
	}
	if _, err := r.Unpack(); CodeOf(err) != InvalidArgument {
		t.Errorf("Unpack() error = %v", err)
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    ErrorCode
		message string
	}{
		{"nil", nil, Success, ""},
		{"coded", NewError(OutOfMemory, "heap"), OutOfMemory, "heap"},
		{"wrapped", fmt.Errorf("ctx: %w", NewError(SyncError, "double signal")), SyncError, "double signal"},
		{"plain", errors.New("boom"), Unknown, "boom"},
	}
	for _, tt := range tests {
		r := FromError(7, tt.err)
		if r.Code() != tt.code || r.Message() != tt.message {
			t.Errorf("%s: FromError() = %s %q, want %s %q", tt.name, r.Code(), r.Message(), tt.code, tt.message)
		}
		if tt.err != nil && !errors.Is(r.Err(), tt.err) {
			t.Errorf("%s: Err() lost the original error", tt.name)
		}
	}
}

func TestThenChains(t *testing.T) {
	parse := Try(strconv.Atoi)
	double := func(n int) Result[int] { return Ok(n * 2) }

	r := Then(Then(Ok("21"), parse), double)
	if !r.IsSuccess() || r.Value() != 42 {
		t.Errorf("chain = %v %v, want 42", r.Value(), r.Err())
	}

	called := false
	r = Then(Fail[int](DeviceLost, "gone"), func(n int) Result[int] {
		called = true
		return Ok(n)
	})
	if called {
		t.Error("Then called f on a failed result")
	}
	if r.Code() != DeviceLost || r.Message() != "gone" {
		t.Errorf("propagated = %s %q, want DeviceLost \"gone\"", r.Code(), r.Message())
	}

	r = Then(Ok("x"), parse)
	if r.Code() != Unknown {
		t.Errorf("Try on a failing call: Code() = %s, want Unknown", r.Code())
	}
}

func TestThenDo(t *testing.T) {
	var seen int
	r := ThenDo(Ok(3), func(n int) error {
		seen = n
		return nil
	})
	if !r.IsSuccess() || r.Value() != 3 || seen != 3 {
		t.Errorf("ThenDo() = %v %v, seen %d", r.Value(), r.Err(), seen)
	}

	r = ThenDo(Ok(3), func(int) error { return NewError(TimeoutError, "wait") })
	if r.Code() != TimeoutError {
		t.Errorf("ThenDo() Code = %s, want TimeoutError", r.Code())
	}
}
