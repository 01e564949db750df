package ace

import (
	"testing"
	"time"

	"github.com/airup-sh/airupd/internal/process"
)

func TestRunBuiltinNoop(t *testing.T) {
	a := New(process.Env{}, nil)
	if err := a.RunWait("noop"); err != nil {
		t.Fatalf("RunWait(noop): %v", err)
	}
}

func TestRunAlwaysSuccessModifier(t *testing.T) {
	a := New(process.Env{}, nil)
	if err := a.RunWait(`- builtin.sleep notanumber`); err != nil {
		t.Fatalf("RunWait(- builtin.sleep notanumber): %v, want success via '-' modifier", err)
	}
}

func TestRunAsyncModifierResolvesImmediately(t *testing.T) {
	a := New(process.Env{}, nil)
	start := time.Now()
	if err := a.RunWait(`& builtin.sleep 500`); err != nil {
		t.Fatalf("RunWait(& builtin.sleep 500): %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("async modifier should resolve immediately, took %v", elapsed)
	}
}

func TestRunEmptyModifierRemainderIsNoop(t *testing.T) {
	a := New(process.Env{}, nil)
	if err := a.RunWait(`-`); err != nil {
		t.Fatalf("RunWait(-): %v, want no-op success", err)
	}
}
