package rpc

import (
	"context"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Handler is a leaf method function (spec §4.8: "leaves are method
// functions Request → Future<Response>").
type Handler func(ctx context.Context, params cbor.RawMessage) (interface{}, error)

// Router dispatches dotted method paths (e.g. "system.start_service") by
// walking a tree of nested Routers down to a leaf Handler. The root
// Router holds sub-routers for each top-level namespace ("system",
// "debug", "info"), mirroring spec §4.8's "root router holds nested
// routers" directly.
type Router struct {
	handlers map[string]Handler
	children map[string]*Router
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]Handler),
		children: make(map[string]*Router),
	}
}

// Handle registers h as the leaf for a single path segment under this
// Router (no dots).
func (r *Router) Handle(segment string, h Handler) {
	r.handlers[segment] = h
}

// SubRouter returns the nested Router for segment, creating it if absent.
func (r *Router) SubRouter(segment string) *Router {
	if sub, ok := r.children[segment]; ok {
		return sub
	}
	sub := NewRouter()
	r.children[segment] = sub
	return sub
}

// HandleFunc registers h at a full dotted path, creating intermediate
// sub-routers as needed. This is the convenient form method tables use.
func (r *Router) HandleFunc(path string, h Handler) {
	segments := strings.Split(path, ".")
	cur := r
	for _, seg := range segments[:len(segments)-1] {
		cur = cur.SubRouter(seg)
	}
	cur.Handle(segments[len(segments)-1], h)
}

// Dispatch resolves method against the router tree and invokes its
// Handler. An unresolvable path returns ErrNoSuchMethod (wire code
// "NoSuchMethod").
func (r *Router) Dispatch(ctx context.Context, method string, params cbor.RawMessage) (interface{}, error) {
	h, err := r.resolve(method)
	if err != nil {
		return nil, err
	}
	return h(ctx, params)
}

func (r *Router) resolve(method string) (Handler, error) {
	segments := strings.Split(method, ".")
	cur := r
	for _, seg := range segments[:len(segments)-1] {
		sub, ok := cur.children[seg]
		if !ok {
			return nil, errNoSuchMethod
		}
		cur = sub
	}
	h, ok := cur.handlers[segments[len(segments)-1]]
	if !ok {
		return nil, errNoSuchMethod
	}
	return h, nil
}
