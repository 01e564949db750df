package rpc

import "github.com/airup-sh/airupd/internal/apierror"

var errNoSuchMethod = apierror.ErrNoSuchMethod

// ToResponse converts any error returned by a Handler into the wire error
// envelope (spec §7's error-kind table). A non-*apierror.Error is folded
// into KindInternal rather than leaking an unstructured message, matching
// the rest of the core's "every Result-shaped return carries a stable
// Kind" convention (see DESIGN.md's error-handling entry).
func ToResponse(err error) *Response {
	if err == nil {
		return OK(nil)
	}
	ae, ok := err.(*apierror.Error)
	if !ok {
		ae = apierror.Internal(err.Error())
	}
	return Err(ErrorPayload{
		Code:    string(ae.Kind),
		Name:    ae.Name,
		Message: ae.Message,
		ExitNo:  ae.Code,
		Signum:  ae.Signum,
	})
}
