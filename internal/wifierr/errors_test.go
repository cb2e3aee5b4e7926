package wifierr

import (
	"errors"
	"fmt"
	"testing"
)

// TestKindString tests the human-readable kind names
func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInvalidArgument, "Invalid Argument"},
		{KindBusy, "Busy"},
		{KindAlreadyActive, "Already Active"},
		{KindAlreadyInactive, "Already Inactive"},
		{KindNoDevice, "No Device"},
		{KindTimeout, "Timeout"},
		{KindUnavailable, "Unavailable"},
		{KindIO, "I/O Error"},
		{Kind(99), "Kind(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("Kind.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestErrorFormatting tests the composed error message
func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "plain",
			err:  New(KindBusy, "scan already in progress"),
			want: "Busy: scan already in progress",
		},
		{
			name: "with status",
			err:  WithStatus(KindTimeout, "scan timed out", -116),
			want: "Timeout: scan timed out (status -116)",
		},
		{
			name: "with cause",
			err:  Wrap(KindIO, "accept failed", cause),
			want: "I/O Error: accept failed (caused by: connection reset)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestPredicates tests kind predicates against wrapped chains
func TestPredicates(t *testing.T) {
	busy := New(KindBusy, "scan already in progress")
	wrapped := fmt.Errorf("scan: %w", busy)

	if !IsBusy(busy) {
		t.Error("IsBusy(busy) = false, want true")
	}
	if !IsBusy(wrapped) {
		t.Error("IsBusy(wrapped) = false, want true")
	}
	if IsTimeout(busy) {
		t.Error("IsTimeout(busy) = true, want false")
	}
	if IsBusy(errors.New("plain")) {
		t.Error("IsBusy(plain error) = true, want false")
	}
}

// TestStatusOf tests platform status extraction
func TestStatusOf(t *testing.T) {
	err := WithStatus(KindUnavailable, "AP mode not supported", -95)
	if got := StatusOf(err); got != -95 {
		t.Errorf("StatusOf() = %d, want -95", got)
	}
	if got := StatusOf(fmt.Errorf("outer: %w", err)); got != -95 {
		t.Errorf("StatusOf(wrapped) = %d, want -95", got)
	}
	if got := StatusOf(errors.New("plain")); got != 0 {
		t.Errorf("StatusOf(plain) = %d, want 0", got)
	}
}

// TestUnwrap tests the error chain
func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindIO, "socket failure", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}
