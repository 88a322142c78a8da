package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestMalformedBarError(t *testing.T) {
	err := Wrap(NewMalformedBarError(3, "high", "x", "not a number"), "load 600519")
	if !Is(err, ErrMalformedBar) {
		t.Errorf("err = %v, want ErrMalformedBar", err)
	}
	var ve *ValidationError
	if !As(err, &ve) || ve.Field != "bars[3].high" {
		t.Errorf("validation error = %+v", ve)
	}
}

func TestStoreErrorMatchesBoth(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrapf(NewStoreError("redis", "update", "000001", cause), "advance %s", "000001")
	if !Is(err, ErrStateStore) || !Is(err, cause) {
		t.Errorf("err = %v, want ErrStateStore and cause", err)
	}
	if !strings.Contains(err.Error(), "[redis] update 000001") {
		t.Errorf("message = %q", err.Error())
	}
	if Is(err, ErrStateNotFound) {
		t.Errorf("store error matched ErrStateNotFound")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "ctx") != nil || Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("wrapping nil returned an error")
	}
}
