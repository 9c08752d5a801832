package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotFound, KindNotFound},
		{fmt.Errorf("jobs_pkey: %w", ErrConflict), KindConflict},
		{ErrInconsistentState, KindInconsistentState},
		{&ValidationError{Fields: map[string]string{"job_ref": "required"}}, KindValidation},
		{Wrap("begin", context.DeadlineExceeded), KindStore},
		{errors.New("boom"), KindInternal},
	}
	for _, c := range cases {
		if got := Kind(c.err); got != c.want {
			t.Errorf("Kind(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestWrapKeepsSentinels(t *testing.T) {
	if Wrap("x", ErrNotFound) != ErrNotFound {
		t.Fatal("sentinel should pass through")
	}
	inner := Wrap("begin", errors.New("dial"))
	if Wrap("outer", inner) != inner {
		t.Fatal("store errors should not be double wrapped")
	}
	var se *StoreError
	if !errors.As(inner, &se) || se.Op != "begin" || se.Error() != "begin: dial" {
		t.Fatalf("unexpected: %v", inner)
	}
}

func TestValidateUsesJSONNames(t *testing.T) {
	err := Validate(TransitionInput{JobRef: "J-1"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Fields["job_status"] != "required" || ve.Fields["actor_ref"] != "required" {
		t.Fatalf("fields: %v", ve.Fields)
	}
	if ve.Error() != "invalid input: actor_ref: required, job_status: required" {
		t.Fatalf("message: %s", ve.Error())
	}
}
