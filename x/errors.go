package x

import "github.com/pkg/errors"

// Error kinds recognized by the pipeline. A call site wraps one of these
// sentinels with errors.Wrapf to attach context; errors.Cause (or
// errors.Is against the sentinel) recovers the kind for dispatch.
var (
	// ErrMissingSchema means Settings validation found an empty schema tag.
	ErrMissingSchema = errors.New("missing schema")

	// ErrVersionMismatch means persisted Metadata.schema does not match the
	// configured schema_tag in live mode.
	ErrVersionMismatch = errors.New("schema version mismatch")

	// ErrIndexClosed signals a bulk response contained an
	// index_closed_exception; the run must be abandoned without a commit.
	ErrIndexClosed = errors.New("index closed")

	// ErrTransientSource marks a retryable relational-driver failure.
	ErrTransientSource = errors.New("transient source error")

	// ErrTransientSink marks a retryable search-cluster rejection (429 or
	// es_rejected_execution_exception).
	ErrTransientSink = errors.New("transient sink error")

	// ErrFatalSink marks a non-retryable bulk item error other than
	// index-closed. It is reported to the ErrorSink and does not block
	// progress.
	ErrFatalSink = errors.New("fatal sink error")

	// ErrCancelled means the run was stopped via context cancellation.
	ErrCancelled = errors.New("cancelled")
)

// Wrap attaches msg as context to err while preserving its Cause for
// errors.Is(err, ErrXxx) checks further up the stack.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is the formatted variant of Wrap.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Cause unwraps err down to its root, the way callers recover a sentinel
// kind from a wrapped error.
func Cause(err error) error {
	return errors.Cause(err)
}
