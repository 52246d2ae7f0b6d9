// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInternal, "failed to validate")
	if wrapped.Error() != "failed to validate: invalid input" {
		t.Errorf("expected 'failed to validate: invalid input', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if GetKind(err) != KindValidation {
		t.Errorf("expected KindValidation, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindInternal, "failed")
	if GetKind(wrapped) != KindInternal {
		t.Errorf("expected KindInternal, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindUnknown:    "unknown",
		KindInternal:   "internal",
		KindValidation: "validation",
		KindNotFound:   "not_found",
		KindConflict:   "conflict",
		KindTransient:  "transient",
		KindCapacity:   "capacity",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestIsKind(t *testing.T) {
	err := Errorf(KindNotFound, "rule %s not found", "ip/10.0.0.5")
	if !IsKind(err, KindNotFound) {
		t.Error("expected IsKind to match KindNotFound")
	}
	if IsKind(err, KindValidation) {
		t.Error("IsKind matched the wrong kind")
	}
}
