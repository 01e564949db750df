package apierror

import (
	"errors"
	"testing"
)

func TestErrorMessagesIncludePayload(t *testing.T) {
	cases := []struct {
		err  *Error
		want string
	}{
		{Exited(3), "command exited with code 3"},
		{Signaled(9), "command was terminated by signal 9"},
		{PidFile("bad format"), "pid file error: bad format"},
		{DependencyNotSatisfied("network"), "dependency not satisfied: network"},
		{ConflictsWith("sshd"), "conflicts with active service: sshd"},
		{Unsupported("no reload command"), "unsupported: no reload command"},
		{Io("disk full"), "I/O error: disk full"},
		{Internal("unreachable"), "internal error: unreachable"},
		{New(KindNotStarted), "NotStarted"},
	}
	for _, c := range cases {
		if got := c.err.Error(); got != c.want {
			t.Errorf("got %q, want %q", got, c.want)
		}
	}
}

func TestOfMatchesOnlyMatchingKind(t *testing.T) {
	err := ConflictsWith("sshd")
	if !Of(err, KindConflictsWith) {
		t.Error("want Of to match the error's own kind")
	}
	if Of(err, KindUnsupported) {
		t.Error("want Of to reject a mismatched kind")
	}
	if Of(errors.New("plain"), KindConflictsWith) {
		t.Error("want Of to reject a non-*Error")
	}
}

func TestKindOfExtractsOrReturnsEmpty(t *testing.T) {
	if got := KindOf(ErrNotStarted); got != KindNotStarted {
		t.Errorf("got %q", got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("got %q, want empty Kind for a non-*Error", got)
	}
}

func TestIsComparesByKindIgnoringPayload(t *testing.T) {
	a := Exited(1)
	b := Exited(2)
	if !a.Is(b) {
		t.Error("want Is to match same-kind errors regardless of payload")
	}
	if a.Is(Signaled(1)) {
		t.Error("want Is to reject a different kind")
	}
	if a.Is(errors.New("plain")) {
		t.Error("want Is to reject a non-*Error target")
	}
}

func TestSentinelsCarryTheirOwnKindOnly(t *testing.T) {
	sentinels := map[Kind]*Error{
		KindTaskExists:      ErrTaskExists,
		KindTaskNotFound:    ErrTaskNotFound,
		KindTaskInterrupted: ErrTaskInterrupted,
		KindUnitStarted:     ErrUnitStarted,
		KindNotStarted:      ErrNotStarted,
		KindTimedOut:        ErrTimedOut,
		KindObjectNotFound:  ErrObjectNotFound,
		KindNoSuchMethod:    ErrNoSuchMethod,
		KindInvalidParams:   ErrInvalidParams,
	}
	for kind, sentinel := range sentinels {
		if sentinel.Kind != kind {
			t.Errorf("got %q, want %q", sentinel.Kind, kind)
		}
	}
}
