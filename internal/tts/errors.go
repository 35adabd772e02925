package tts

import "errors"

var (
	ErrNetworkUnavailable  = errors.New("network unavailable")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrSynthesisTimedOut   = errors.New("synthesis timed out")
	ErrInvalidResponse     = errors.New("invalid synthesis response")
	ErrAudioDecodingFailed = errors.New("audio decoding failed")
)

// ConnectionError reports a failure to open or use the synthesis socket
// before a complete response arrived.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return "connection failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "connection failed: " + e.Reason
}

func (e *ConnectionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConnectionFailed}
	}
	return []error{ErrConnectionFailed, e.Err}
}
