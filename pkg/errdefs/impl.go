package errdefs

import (
	"errors"
	"fmt"
)

var kindNames = map[Kind]string{
	KindConfiguration: "configuration",
	KindProtocol:      "protocol",
	KindTransient:     "transient",
	KindTimeout:       "timeout",
	KindDeployment:    "deployment",
	KindCodec:         "codec",
}

func newError(kind Kind, cause error,
	format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func isKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (e *Error) describe() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}
