package copc

import "fmt"

const previewBytes = 64

// FormatError reports a malformed or non-COPC payload: a bad magic signature,
// an origin error page served with a success status, or an unparseable
// header/hierarchy. It carries the byte range that produced it and a short
// payload preview for diagnosis. Not retryable at the reader layer.
type FormatError struct {
	Path    string
	Begin   int64
	End     int64
	Reason  string
	Preview []byte
}

func (e *FormatError) Error() string {
	if len(e.Preview) > 0 {
		return fmt.Sprintf("copc %s: bytes [%d,%d): %s; payload begins %q",
			e.Path, e.Begin, e.End, e.Reason, e.Preview)
	}
	return fmt.Sprintf("copc %s: bytes [%d,%d): %s", e.Path, e.Begin, e.End, e.Reason)
}

func newFormatError(path string, begin, end int64, payload []byte, reason string) *FormatError {
	preview := payload
	if len(preview) > previewBytes {
		preview = preview[:previewBytes]
	}
	cp := make([]byte, len(preview))
	copy(cp, preview)
	return &FormatError{Path: path, Begin: begin, End: end, Reason: reason, Preview: cp}
}

// TransportError reports a network-level failure (connection, timeout, bad
// status, truncated body). Retryable by the fetch scheduler.
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("copc %s: transport: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
