package core

import "errors"

// Error codes for engine errors.
const (
	ErrCodeTransport         = "transport_error"
	ErrCodeValidation        = "validation_error"
	ErrCodeNotAuthorized     = "not_authorized"
	ErrCodeStaleReference    = "stale_reference"
	ErrCodeCacheCorrupt      = "cache_corrupt"
	ErrCodeMutedByModerator  = "muted_by_moderator"
	ErrCodeSessionClosed     = "session_closed"
	ErrCodeParticipantKicked = "participant_kicked"
)

var (
	// ErrTransport means the event channel is unavailable. Callers may retry.
	ErrTransport = errors.New("transport unavailable")
	// ErrValidation marks a malformed event payload. Such events are dropped.
	ErrValidation = errors.New("invalid event payload")
	// ErrNotAuthorized is returned when a non-privileged caller issues a moderation command.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrStaleReference means the targeted participant or message is no longer present.
	ErrStaleReference = errors.New("stale reference")
	// ErrCacheCorrupt marks an unparsable or schema-mismatched cache snapshot.
	ErrCacheCorrupt = errors.New("cache snapshot corrupt")
	// ErrMutedByModerator rejects a self-unmute while a host mute is in effect.
	ErrMutedByModerator = errors.New("cannot unmute: muted by moderator")
	// ErrSessionClosed is returned by operations on a session that has been torn down.
	ErrSessionClosed = errors.New("session closed")
	// ErrKicked marks a participant id that was kicked and cannot be reinstated.
	ErrKicked = errors.New("participant kicked")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code string, err error, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

// CodeOf returns the engine error code carried by err, or "" if err is not a CoreError.
func CodeOf(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	switch {
	case errors.Is(err, ErrTransport):
		return ErrCodeTransport
	case errors.Is(err, ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, ErrNotAuthorized):
		return ErrCodeNotAuthorized
	case errors.Is(err, ErrStaleReference):
		return ErrCodeStaleReference
	case errors.Is(err, ErrCacheCorrupt):
		return ErrCodeCacheCorrupt
	case errors.Is(err, ErrMutedByModerator):
		return ErrCodeMutedByModerator
	case errors.Is(err, ErrSessionClosed):
		return ErrCodeSessionClosed
	case errors.Is(err, ErrKicked):
		return ErrCodeParticipantKicked
	}
	return ""
}
