package wire

import (
	"errors"
	"fmt"
)

// Domain partitions protocol error codes the way the wire format does: a
// request-failed frame carries the domain token alongside the numeric
// code so that peers can map the pair back to a meaningful error.
type Domain string

const (
	// DomainRequest covers malformed or unauthorized requests.
	DomainRequest Domain = "request-error"
	// DomainUser covers user bookkeeping failures such as name conflicts.
	DomainUser Domain = "user-error"
	// DomainParse covers frame decoding failures.
	DomainParse Domain = "parse-error"
)

// Code is the numeric error code within a domain.
type Code uint

// Request domain codes.
const (
	CodeUnknown          Code = 0
	CodeNoSuchAttribute  Code = 1
	CodeInvalidAttribute Code = 2
	CodeNotAuthorized    Code = 3
)

// User domain codes.
const (
	CodeNameInUse   Code = 10
	CodeInvalidName Code = 11
	CodeIDInUse     Code = 12
)

// Parse domain codes.
const (
	CodeMalformedXML  Code = 20
	CodeInvalidNumber Code = 21
)

// Error is a protocol-level failure that can be reported to the
// originating peer via a request-failed frame.
type Error struct {
	Domain  Domain
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds a protocol error with a formatted message.
func Errorf(d Domain, c Code, format string, args ...any) *Error {
	return &Error{Domain: d, Code: c, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a protocol error with the given domain
// and code.
func IsCode(err error, d Domain, c Code) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Domain == d && perr.Code == c
}

// FailureFrame converts err into a request-failed frame. Non-protocol
// errors are reported under the request domain with code zero. The seq
// attribute is set when seq is non-empty.
func FailureFrame(err error, seq string) *Frame {
	f := NewFrame("request-failed")

	var perr *Error
	if errors.As(err, &perr) {
		f.SetAttr("domain", string(perr.Domain))
		f.SetUintAttr("code", uint(perr.Code))
		f.SetAttr("message", perr.Message)
	} else {
		f.SetAttr("domain", string(DomainRequest))
		f.SetUintAttr("code", uint(CodeUnknown))
		f.SetAttr("message", err.Error())
	}
	if seq != "" {
		f.SetAttr("seq", seq)
	}
	return f
}

// ErrorFromFrame reconstructs the protocol error carried by a
// request-failed frame. It returns nil when the frame is not a
// request-failed element.
func ErrorFromFrame(f *Frame) *Error {
	if f.Name != "request-failed" {
		return nil
	}
	domain, _ := f.Attr("domain")
	code, _, _ := f.UintAttr("code")
	message, _ := f.Attr("message")
	return &Error{Domain: Domain(domain), Code: Code(code), Message: message}
}
