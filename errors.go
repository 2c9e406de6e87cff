package pathdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMultipleMatches is matched by errors.Is for *MultipleMatchesError.
	ErrMultipleMatches = errors.New("more than one document matches")

	// ErrNotReady is returned by a fail-fast LazyBackend that is still initializing.
	ErrNotReady = errors.New("backend not ready")
)

// ValidationError is a user-correctable problem with a request. It is never
// worth retrying the same request.
type ValidationError struct {
	Field string
	Msg   string
}

func validationErrf(field string, format string, args ...any) error {
	return &ValidationError{field, fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Msg
	}
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Msg)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MultipleMatchesError means a single-result lookup found several documents.
// Since the lookup field is expected to be unique, this signals a data
// integrity problem rather than a user mistake.
type MultipleMatchesError struct {
	Path  string
	Value Value
	Count int
}

func (e *MultipleMatchesError) Error() string {
	return fmt.Sprintf("%d documents match %s=%s", e.Count, e.Path, loggableValue(e.Value))
}

func (e *MultipleMatchesError) Is(target error) bool {
	return target == ErrMultipleMatches
}

// BackendError wraps any failure of the persistence layer.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func wrapBackendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{op, err}
}

// DataError reports stored bytes that cannot be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// BucketError locates a failure inside the key-value backend.
type BucketError struct {
	Bucket string
	Sub    string
	Key    []byte
	Msg    string
	Err    error
}

func bucketErrf(bucket, sub string, key []byte, err error, format string, args ...any) error {
	return &BucketError{bucket, sub, key, fmt.Sprintf(format, args...), err}
}

func (e *BucketError) Unwrap() error {
	return e.Err
}

func (e *BucketError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Bucket)
	if e.Sub != "" {
		buf.WriteByte('/')
		buf.WriteString(e.Sub)
	}
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(hexstr(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
