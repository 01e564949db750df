package rpc

import (
	"context"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/airup-sh/airupd/internal/apierror"
)

func TestRouterDispatchesNestedPath(t *testing.T) {
	r := NewRouter()
	r.HandleFunc("system.start_service", func(_ context.Context, params cbor.RawMessage) (interface{}, error) {
		var name string
		_ = cbor.Unmarshal(params, &name)
		return "started:" + name, nil
	})

	params, _ := cbor.Marshal("svc-a")
	got, err := r.Dispatch(context.Background(), "system.start_service", params)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got != "started:svc-a" {
		t.Errorf("got %v", got)
	}
}

func TestRouterDispatchesDeeplyNestedPath(t *testing.T) {
	r := NewRouter()
	r.HandleFunc("a.b.c", func(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
		return "leaf", nil
	})

	got, err := r.Dispatch(context.Background(), "a.b.c", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got != "leaf" {
		t.Errorf("got %v", got)
	}
}

func TestRouterUnknownMethodIsNoSuchMethod(t *testing.T) {
	r := NewRouter()
	r.HandleFunc("system.start_service", func(_ context.Context, _ cbor.RawMessage) (interface{}, error) {
		return nil, nil
	})

	cases := []string{"system.nonexistent", "nonexistent.start_service", "system.start_service.extra"}
	for _, method := range cases {
		_, err := r.Dispatch(context.Background(), method, nil)
		if !apierror.Of(err, apierror.KindNoSuchMethod) {
			t.Errorf("method %q: got %v, want NoSuchMethod", method, err)
		}
	}
}

func TestSubRouterIsReusedAcrossCalls(t *testing.T) {
	r := NewRouter()
	sub1 := r.SubRouter("system")
	sub2 := r.SubRouter("system")
	if sub1 != sub2 {
		t.Error("SubRouter created a second router for the same segment")
	}
}
