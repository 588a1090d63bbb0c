package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("driver failure")
	err := Wrap(cause, ErrCodeInternal, "load profile")

	if got := err.Error(); got != "load profile: driver failure" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if Wrap(nil, ErrCodeInternal, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{name: "not found", err: NotFound("missing"), pred: IsNotFound},
		{name: "conflict", err: Conflict("dup"), pred: IsConflict},
		{name: "validation", err: ValidationField("phone", "bad"), pred: IsValidation},
		{name: "unauthenticated", err: Unauthenticated("sign in"), pred: IsUnauthenticated},
		{name: "forbidden", err: Forbidden("no"), pred: IsForbidden},
		{name: "unavailable", err: Wrap(errors.New("dial"), ErrCodeUnavailable, "db"), pred: IsUnavailable},
		{name: "timeout", err: Wrap(errors.New("t"), ErrCodeTimeout, "t"), pred: IsTimeout},
		{name: "canceled", err: Wrap(errors.New("c"), ErrCodeCanceled, "c"), pred: IsCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !tt.pred(wrapped) {
				t.Errorf("predicate failed for %v", wrapped)
			}
			if tt.pred(errors.New("plain")) {
				t.Error("predicate matched a plain error")
			}
		})
	}
}

func TestGetField(t *testing.T) {
	if got := GetField(ValidationField("first_name", "too long")); got != "first_name" {
		t.Errorf("GetField() = %q", got)
	}
	if got := GetField(errors.New("plain")); got != "" {
		t.Errorf("GetField() = %q, want empty", got)
	}
	if got := GetCode(Internalf("x %d", 1)); got != ErrCodeInternal {
		t.Errorf("GetCode() = %q", got)
	}
}
