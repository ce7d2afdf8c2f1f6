package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrRepositoryNotFound is returned when no repository matches the given identifier.
	ErrRepositoryNotFound = errors.New("repository not found")
	// ErrAnalysisInProgress is returned when a re-analysis is requested while the repository is fetching or analyzing.
	ErrAnalysisInProgress = errors.New("analysis already in progress")
	// ErrGeneratorUnavailable means no narrative generator is configured or reachable.
	ErrGeneratorUnavailable = errors.New("narrative generator unavailable")
	// ErrMalformedGeneratorOutput means the generator answered but no usable JSON could be extracted.
	ErrMalformedGeneratorOutput = errors.New("malformed generator output")
	// ErrInvalidGranularity is returned for a grouping period other than weekly or monthly.
	ErrInvalidGranularity = errors.New("invalid granularity")
)

// ErrInvalidRepoFormat is returned when a repository string is not in 'owner/name[@branch]' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name[@branch]'", e.Repo)
}

// SourceErrorKind classifies failures coming from the source-control host.
type SourceErrorKind int

const (
	// SourceFailure is any non-retryable API error (auth, validation, server errors after retries).
	SourceFailure SourceErrorKind = iota
	// SourceRateLimited is retryable once the rate limit window resets.
	SourceRateLimited
	// SourceNotFound means the requested resource does not exist or is not visible to the token.
	SourceNotFound
)

func (k SourceErrorKind) String() string {
	switch k {
	case SourceRateLimited:
		return "rate limited"
	case SourceNotFound:
		return "not found"
	default:
		return "api error"
	}
}

// SourceError wraps an error returned by the source-control host.
type SourceError struct {
	Kind SourceErrorKind
	Op   string
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a rate-limit error that should be retried later.
func IsTransient(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Kind == SourceRateLimited
}

// IsNotFound reports whether err is a not-found error from the source host.
func IsNotFound(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Kind == SourceNotFound
}

// DataIntegrityError signals stored data that contradicts an invariant. It is never repaired silently.
type DataIntegrityError struct {
	Op     string
	Detail string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation in %s: %s", e.Op, e.Detail)
}
