// Package autherr is the error taxonomy shared by every ledger and handler.
//
// Each error carries a machine-readable Kind plus the structured fields a
// caller needs to render a next step. Display strings are built by the
// presentation layer, not here.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	// KindMalformed is a missing or invalid parameter, rejected before any
	// store access.
	KindMalformed Kind = "malformed_request"
	// KindInvalidCredential is a state, code, or token that was not found,
	// expired, or did not match. Reported generically.
	KindInvalidCredential Kind = "invalid_credential"
	// KindConfiguration is a required runtime parameter that is absent.
	KindConfiguration Kind = "configuration"
	// KindStore is a failure of the durable keyed store.
	KindStore Kind = "store_failure"
	// KindDownstream is the third-party service rejecting a credential.
	KindDownstream Kind = "downstream_rejected"
)

// OAuth 2.0 error codes (RFC 6749 §4.1.2.1, §5.2; RFC 7591 §3.2.2).
const (
	CodeInvalidRequest          = "invalid_request"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeInvalidGrant            = "invalid_grant"
	CodeInvalidClient           = "invalid_client"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeInvalidToken            = "invalid_token"
	CodeInvalidClientMetadata   = "invalid_client_metadata"
	CodeInvalidRedirectURI      = "invalid_redirect_uri"
	CodeServerError             = "server_error"
	CodeTemporarilyUnavailable  = "temporarily_unavailable"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// URL is an actionable link, e.g. a magic link for credential refresh.
	URL string
	// Tool names the remediation tool a client should call.
	Tool string
	// DaysRemaining is set when the failure relates to credential expiry.
	DaysRemaining *int

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithURL returns a copy of e carrying an actionable URL.
func (e *Error) WithURL(url string) *Error {
	c := *e
	c.URL = url
	return &c
}

// WithTool returns a copy of e naming a remediation tool.
func (e *Error) WithTool(tool string) *Error {
	c := *e
	c.Tool = tool
	return &c
}

// Malformed reports a request rejected before any side effect.
func Malformed(code, message string) *Error {
	if code == "" {
		code = CodeInvalidRequest
	}
	return &Error{Kind: KindMalformed, Code: code, Message: message}
}

// InvalidCredential reports an unusable state, code, or token. The message is
// deliberately generic; cause is kept for logs only.
func InvalidCredential(code string, cause error) *Error {
	if code == "" {
		code = CodeInvalidGrant
	}
	return &Error{Kind: KindInvalidCredential, Code: code, Message: "invalid or expired credential", Err: cause}
}

// Configuration reports a missing runtime parameter.
func Configuration(message string) *Error {
	return &Error{Kind: KindConfiguration, Code: CodeServerError, Message: message}
}

// Store wraps a store or transport failure.
func Store(op string, err error) *Error {
	return &Error{Kind: KindStore, Code: CodeTemporarilyUnavailable, Message: op, Err: err}
}

// Downstream wraps a rejection from the third-party service, keeping its
// classification reachable through errors.Is.
func Downstream(message string, err error) *Error {
	return &Error{Kind: KindDownstream, Code: CodeInvalidClient, Message: message, Err: err}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns err's Kind. Unclassified errors are treated as store failures
// because they surface unexpected I/O.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindStore
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the OAuth error code for err.
func CodeOf(err error) string {
	if e, ok := As(err); ok && e.Code != "" {
		return e.Code
	}
	return CodeServerError
}

// HTTPStatus maps err to the status code handlers should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindMalformed:
		return http.StatusBadRequest
	case KindInvalidCredential:
		if CodeOf(err) == CodeInvalidToken {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindDownstream:
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}
