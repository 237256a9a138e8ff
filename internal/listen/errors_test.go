package listen

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorKinds(t *testing.T) {
	base := &Error{Kind: KindHandshake, Op: "dial", Err: io.ErrUnexpectedEOF, StatusCode: 502}
	wrapped := fmt.Errorf("connect: %w", base)

	if !IsKind(wrapped, KindHandshake) {
		t.Errorf("Expected handshake kind through wrapping, got %s", KindOf(wrapped))
	}
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("Expected underlying error to be reachable")
	}
	if got := HandshakeStatus(wrapped); got != 502 {
		t.Errorf("Expected status 502, got %d", got)
	}
	if got := base.Error(); got != "listen: dial: unexpected EOF" {
		t.Errorf("Unexpected message %q", got)
	}

	if KindOf(nil) != KindUnknown || KindOf(errors.New("plain")) != KindUnknown {
		t.Error("Expected unknown kind for unclassified errors")
	}
	if HandshakeStatus(&Error{Kind: KindIO, StatusCode: 500}) != 0 {
		t.Error("Expected no handshake status for io errors")
	}
}

func TestWrapKeepsKind(t *testing.T) {
	inner := &Error{Kind: KindSerialization, Op: "decode", Err: errors.New("bad json")}
	if got := wrap(KindIO, "read", inner); got != error(inner) {
		t.Errorf("Expected classified error to pass through, got %v", got)
	}
	if wrap(KindIO, "read", nil) != nil {
		t.Error("Expected nil for nil error")
	}
	if got := wrap(KindIO, "read", io.EOF); !IsKind(got, KindIO) {
		t.Errorf("Expected io kind, got %v", got)
	}
}
