package rsyncerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, CodeSuccess},
		{"usage", Usage(base), CodeUsage},
		{"session setup", SessionSetup(base), CodeSessionSetup},
		{"protocol", Protocol(base), CodeProtocol},
		{"partial transfer", PartialTransfer(base), CodePartialTransfer},
		{"unclassified", base, CodeProtocol},
		{"wrapped", fmt.Errorf("context: %w", SessionSetup(base)), CodeSessionSetup},
	}
	for _, tc := range tests {
		if got := ExitCode(tc.err); got != tc.want {
			t.Errorf("%s: ExitCode() = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestCodedErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := Usage(base)
	if !errors.Is(err, base) {
		t.Errorf("errors.Is(%v, %v) = false, want true", err, base)
	}
	if got, want := err.Error(), "boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
