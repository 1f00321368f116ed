// Package errs defines the error kinds the transport layer maps to HTTP
// status codes.  Components wrap these sentinels with pkg/errors so the
// kind survives annotation and can be recovered with errors.Is.
package errs

import "errors"

var (
	// ErrValidation marks a request missing or malforming required input.
	ErrValidation = errors.New("validation failed")

	// ErrAuth marks a missing or invalid credential, or an ownership
	// mismatch on a session operation.
	ErrAuth = errors.New("not authorized")

	// ErrNotFound marks a lookup for a session or prescription that does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrModelTransport marks a failure of the external model call itself:
	// network, quota, or a rejected API key.  These are actionable by the
	// caller (for example by re-entering a key) and distinct from content
	// failures.
	ErrModelTransport = errors.New("model transport failure")

	// ErrContentParse marks a model response that could not be shaped into
	// the expected schema even after repair.  Conversational turns absorb
	// this kind; prescription synthesis surfaces it.
	ErrContentParse = errors.New("unparseable model content")
)
