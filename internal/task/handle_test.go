package task

import (
	"errors"
	"testing"
)

func TestHelperFinishIsOnceOnly(t *testing.T) {
	h := NewHelper(ClassStart)
	h.Finish(errors.New("first"))
	h.Finish(errors.New("second"))

	if err := h.Wait(); err == nil || err.Error() != "first" {
		t.Fatalf("want first error to stick, got %v", err)
	}
}

func TestHelperInterrupt(t *testing.T) {
	h := NewHelper(ClassStop)
	if h.IsInterrupted() {
		t.Fatal("want not interrupted initially")
	}
	h.Interrupt()
	h.Interrupt() // idempotent, must not panic on double close
	if !h.IsInterrupted() {
		t.Fatal("want interrupted after Interrupt")
	}
	if err := h.CheckInterrupt(); err == nil {
		t.Fatal("want CheckInterrupt to report TaskInterrupted")
	}
}

func TestHelperSetClass(t *testing.T) {
	h := NewHelper(ClassCleanup)
	if h.Class() != ClassCleanup {
		t.Fatalf("got %v, want ClassCleanup", h.Class())
	}
	h.SetClass(ClassStart)
	if h.Class() != ClassStart {
		t.Fatalf("got %v, want ClassStart after SetClass", h.Class())
	}
}

func TestHelperDoneChannel(t *testing.T) {
	h := NewHelper(ClassReload)
	select {
	case <-h.Done():
		t.Fatal("want Done channel open before Finish")
	default:
	}
	h.Finish(nil)
	select {
	case <-h.Done():
	default:
		t.Fatal("want Done channel closed after Finish")
	}
}
