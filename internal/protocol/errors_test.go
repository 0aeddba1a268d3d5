package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrCodeProtocol,
		ErrCodeUnknownReference,
		ErrCodeUnknownTemplate,
		ErrCodeUnknownEnumKey,
		ErrCodeUnknownCommand,
		ErrCodeBadParams,
		ErrCodeHandlerPanic,
		ErrCodeWorld,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCodeMapsWrappedSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&ProtocolError{Reason: "bad json"}, ErrCodeProtocol},
		{fmt.Errorf("group %q: %w", "grp_001", ErrUnknownReference), ErrCodeUnknownReference},
		{fmt.Errorf("spawn: %w", ErrUnknownTemplate), ErrCodeUnknownTemplate},
		{fmt.Errorf("formation: %w", ErrUnknownEnumKey), ErrCodeUnknownEnumKey},
		{errors.New("engine refused"), ErrCodeWorld},
	}
	for _, tc := range cases {
		if got := Code(tc.err); got != tc.want {
			t.Fatalf("Code(%v)=%q want %q", tc.err, got, tc.want)
		}
	}
}

func TestProtocolErrorUnwraps(t *testing.T) {
	inner := errors.New("unexpected EOF")
	err := error(&ProtocolError{Reason: "decode reply", Err: inner})
	if !errors.Is(err, inner) {
		t.Fatalf("expected ProtocolError to unwrap to inner error")
	}
	if err.Error() != "protocol: decode reply: unexpected EOF" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}
