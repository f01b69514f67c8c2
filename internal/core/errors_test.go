package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("the directory did not resolve username %q; aborting to avoid a partial import", "x"), "DIR001"},
		{fmt.Errorf("the directory returned an unknown state %q for username %q; aborting to avoid a partial import", "pending", "x"), "DIR002"},
		{errors.New("directory request unauthorized"), "DIR003"},
		{errors.New("directory returned status 502"), "DIR004"},
		{errors.New("dial tcp: connection refused"), "NET001"},
		{errors.New("context deadline exceeded"), "NET002"},
		{errors.New("context canceled"), "NET003"},
		{ErrTableHasErrors, "IMP001"},
		{ErrRunActive, "IMP002"},
		{ErrAlreadyStopping, "IMP003"},
		{errors.New("something nobody anticipated"), "ERR000"},
	}
	for _, tt := range tests {
		if got := MapError(tt.err); got.Code != tt.code {
			t.Errorf("MapError(%q).Code = %q, want %q", tt.err, got.Code, tt.code)
		}
	}
}

func TestMapError_Nil(t *testing.T) {
	if got := MapError(nil); got != (UserMessage{}) {
		t.Errorf("MapError(nil) = %+v, want zero value", got)
	}
}

func TestMapError_CaseInsensitive(t *testing.T) {
	if got := MapError(errors.New("Connection Refused by peer")); got.Code != "NET001" {
		t.Errorf("Code = %q, want NET001", got.Code)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrRunActive)
	want := MapError(ErrRunActive)
	for _, part := range []string{want.Message, want.Code, want.Action} {
		if part != "" && !strings.Contains(got, part) {
			t.Errorf("FormatUserError() = %q, missing %q", got, part)
		}
	}
}
