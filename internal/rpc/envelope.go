package rpc

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/airup-sh/airupd/internal/apierror"
)

// Request is the wire request shape (spec §4.8): a dotted method path plus
// a single parameter value, an array of parameters, or nil.
type Request struct {
	Method string          `cbor:"method"`
	Params cbor.RawMessage `cbor:"params"`
}

// ResponseStatus is the "status" discriminant of a Response.
type ResponseStatus string

const (
	StatusOK  ResponseStatus = "ok"
	StatusErr ResponseStatus = "err"
)

// Response is the wire response shape: `{status:"ok", payload:value}` or
// `{status:"err", payload:{code, ...}}`.
type Response struct {
	Status  ResponseStatus `cbor:"status"`
	Payload interface{}    `cbor:"payload"`
}

// ErrorPayload is the Payload of an error Response: the stable kind plus
// whatever structured detail that kind carries (spec §7).
type ErrorPayload struct {
	Code    string `cbor:"code"`
	Name    string `cbor:"name,omitempty"`
	Message string `cbor:"message,omitempty"`
	ExitNo  int    `cbor:"exit_code,omitempty"`
	Signum  int    `cbor:"signum,omitempty"`
}

// OK builds a successful Response.
func OK(payload interface{}) *Response {
	return &Response{Status: StatusOK, Payload: payload}
}

// Err builds an error Response from an ErrorPayload.
func Err(payload ErrorPayload) *Response {
	return &Response{Status: StatusErr, Payload: payload}
}

// DecodeParams unmarshals params into dst. A nil/empty params value
// leaves dst unmodified. A decode failure is reported as InvalidParams
// (spec §4.8: "On params decode failure, respond InvalidParams"), so
// Handlers can return this error directly without reclassifying it.
func DecodeParams(params cbor.RawMessage, dst interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := cbor.Unmarshal(params, dst); err != nil {
		return apierror.ErrInvalidParams
	}
	return nil
}

// DecodeSingleParam decodes a request whose single parameter is passed
// as-is rather than wrapped in an array (spec §4.8: "Single parameter is
// passed as-is; multiple parameters are an array"). Most of this
// surface's methods take exactly one string parameter.
func DecodeSingleParam(params cbor.RawMessage) (string, error) {
	var s string
	if err := DecodeParams(params, &s); err != nil {
		return "", err
	}
	return s, nil
}
