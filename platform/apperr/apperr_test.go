package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestGetKindFollowsWrappedErrors(t *testing.T) {
	base := NotFound("call not found")
	wrapped := fmt.Errorf("handle answered: %w", base)

	if got := GetKind(wrapped); got != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", got)
	}
	if !Is(wrapped, KindNotFound) {
		t.Fatalf("expected Is(wrapped, KindNotFound) to be true")
	}
	if Is(errors.New("plain"), KindNotFound) {
		t.Fatalf("plain errors must not report a kind")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:    http.StatusNotFound,
		KindBadRequest:  http.StatusBadRequest,
		KindInternal:    http.StatusInternalServerError,
		KindUnavailable: http.StatusServiceUnavailable,
		KindUnknown:     http.StatusBadRequest,
	}
	for kind, want := range cases {
		if got := New(kind, "x").HTTPStatus(); got != want {
			t.Fatalf("kind %v: expected status %d, got %d", kind, want, got)
		}
	}
}

func TestErrorMessageIncludesOpAndCause(t *testing.T) {
	err := Unavailable("transcript store unreachable", errors.New("dial tcp: timeout")).WithOp("transcripts.find")
	want := "transcripts.find: transcript store unreachable: dial tcp: timeout"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
