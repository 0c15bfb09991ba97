package resilience

import "errors"

// Kind classifies a crawl failure by how the pipeline must react to it.
type Kind string

const (
	// KindSessionUnavailable means no browser session can be obtained. Fatal to the run.
	KindSessionUnavailable Kind = "session_unavailable"
	// KindDriverFault is a browser failure that a session restart may cure.
	KindDriverFault Kind = "driver_fault"
	// KindNavigationTimeout means a stage's content never became ready.
	KindNavigationTimeout Kind = "navigation_timeout"
	// KindUnrecognizedLayout means no table on the page matched the report schema.
	KindUnrecognizedLayout Kind = "unrecognized_layout"
	// KindDownloadFailed covers filing retrieval errors. Never fails a stage.
	KindDownloadFailed Kind = "download_failed"
	// KindPersistenceFailure is a rejected or failed database write.
	KindPersistenceFailure Kind = "persistence_failure"
	// KindUnknown is any error that was not classified.
	KindUnknown Kind = "unknown"
)

// KindError attaches a Kind to an error.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *KindError) Unwrap() error { return e.Err }

// Is matches the bare sentinel of the same kind.
func (e *KindError) Is(target error) bool {
	t, ok := target.(*KindError)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrSessionUnavailable = &KindError{Kind: KindSessionUnavailable}
	ErrDriverFault        = &KindError{Kind: KindDriverFault}
	ErrNavigationTimeout  = &KindError{Kind: KindNavigationTimeout}
	ErrUnrecognizedLayout = &KindError{Kind: KindUnrecognizedLayout}
	ErrDownloadFailed     = &KindError{Kind: KindDownloadFailed}
	ErrPersistenceFailure = &KindError{Kind: KindPersistenceFailure}
)

// Mark tags err with kind. A nil err stays nil.
func Mark(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// KindOf returns the outermost kind attached to err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must stop the whole batch.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSessionUnavailable)
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
