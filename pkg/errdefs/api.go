/*
Package errdefs defines the error kinds shared by the certificate pipeline
components. Every failure crossing a component boundary is wrapped in an
*Error carrying a kind, a message and the underlying cause, so callers can
decide between abort, skip and retry without string matching.
*/
package errdefs

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindConfiguration: bad input. Never retried, fatal to the invocation.
	KindConfiguration Kind = iota

	// KindProtocol: the CA rejected a request for a structural reason
	// (missing challenge type, domain mismatch). Never retried.
	KindProtocol

	// KindTransient: network/5xx-style failure on an operation marked
	// retryable. Surfaces as terminal once retries are exhausted.
	KindTransient

	// KindTimeout: a polling or finalization deadline was exceeded.
	// Always terminal.
	KindTimeout

	// KindDeployment: the gateway control plane rejected a read or write.
	KindDeployment

	// KindCodec: certificate or key data could not be parsed or converted.
	KindCodec
)

// Error is the single error type produced by the pipeline components.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Configuration returns a KindConfiguration error. The cause may be nil.
func Configuration(cause error, format string, args ...interface{}) *Error {
	return newError(KindConfiguration, cause, format, args...)
}

// Protocol returns a KindProtocol error. The cause may be nil.
func Protocol(cause error, format string, args ...interface{}) *Error {
	return newError(KindProtocol, cause, format, args...)
}

// Transient returns a KindTransient error. The cause may be nil.
func Transient(cause error, format string, args ...interface{}) *Error {
	return newError(KindTransient, cause, format, args...)
}

// Timeout returns a KindTimeout error. The cause may be nil.
func Timeout(cause error, format string, args ...interface{}) *Error {
	return newError(KindTimeout, cause, format, args...)
}

// Deployment returns a KindDeployment error. The cause may be nil.
func Deployment(cause error, format string, args ...interface{}) *Error {
	return newError(KindDeployment, cause, format, args...)
}

// Codec returns a KindCodec error. The cause may be nil.
func Codec(cause error, format string, args ...interface{}) *Error {
	return newError(KindCodec, cause, format, args...)
}

// IsKind reports whether any error in the chain of err is an *Error of the
// specified kind.
func IsKind(err error, kind Kind) bool {
	return isKind(err, kind)
}

func (e *Error) Error() string { return e.describe() }

func (e *Error) Unwrap() error { return e.Cause }
