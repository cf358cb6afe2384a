package chat

import (
	"fmt"
)

type ErrorKind int

const (
	RawError ErrorKind = iota
	ConnectionFailed
	SendFailed
	ReceiveFailed
)

func (k ErrorKind) String() string {
	switch k {
	case RawError:
		return "raw"
	case ConnectionFailed:
		return "connection_failed"
	case SendFailed:
		return "send_failed"
	case ReceiveFailed:
		return "receive_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// NetworkError is the single error shape transport failures are converted to.
type NetworkError struct {
	Kind    ErrorKind
	Code    int    // provider code, ErrorCodeNone if absent
	Message string // provider text, or the cause text
	Request interface{}
	Err     error
}

func NewRawError(code int, message string) *NetworkError {
	return &NetworkError{Kind: RawError, Code: code, Message: message}
}

func NewConnectionFailed(err error) *NetworkError {
	return &NetworkError{Kind: ConnectionFailed, Code: ErrorCodeNone, Message: errText(err), Err: err}
}

func NewSendFailed(req interface{}, err error) *NetworkError {
	return &NetworkError{Kind: SendFailed, Code: ErrorCodeNone, Message: errText(err), Request: req, Err: err}
}

func NewReceiveFailed(err error) *NetworkError {
	return &NetworkError{Kind: ReceiveFailed, Code: ErrorCodeNone, Message: errText(err), Err: err}
}

func (e *NetworkError) Error() string {
	if e.Code != ErrorCodeNone {
		return fmt.Sprintf("%s: %d: %s", e.Kind, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HasCode reports whether the provider supplied an error code.
func (e *NetworkError) HasCode() bool {
	return e.Code != ErrorCodeNone
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
