package debrid

import "fmt"

// ResolveErrorKind classifies a failed resolution attempt.
type ResolveErrorKind string

const (
	// KindBackendUnavailable covers network failures, 5xx responses and
	// backend-reported torrent failures.
	KindBackendUnavailable ResolveErrorKind = "backend_unavailable"
	// KindAuthInvalid means the API token was rejected.
	KindAuthInvalid ResolveErrorKind = "auth_invalid"
	// KindNoPlayableFile means the torrent holds no file with a playable
	// video extension.
	KindNoPlayableFile ResolveErrorKind = "no_playable_file"
	// KindTimeout means the polling budget was exhausted before the torrent
	// finished caching.
	KindTimeout ResolveErrorKind = "timeout"
	// KindUnrestrictFailed means the final link conversion failed.
	KindUnrestrictFailed ResolveErrorKind = "unrestrict_failed"
)

// ResolveError is the terminal outcome of a failed resolution attempt.
// Resolution never retries internally; retries are a caller concern.
type ResolveError struct {
	Kind    ResolveErrorKind
	Message string
	Err     error
}

func (e *ResolveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

func resolveErr(kind ResolveErrorKind, message string, err error) *ResolveError {
	return &ResolveError{Kind: kind, Message: message, Err: err}
}

// APIError is an HTTP-level error from the debrid backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// IsAuthError reports whether the backend rejected the credential.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
