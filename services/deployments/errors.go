package deployments

import "errors"

// Error taxonomy surfaced to the API layer. All errors are terminal for the
// request; retries are the caller's responsibility.
var (
	// ErrInvalidInput marks malformed or missing required fields (400).
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks lookups for unknown identifiers (404).
	ErrNotFound = errors.New("not found")

	// ErrConflict marks duplicate identities and status transitions not
	// present in the transition table (409).
	ErrConflict = errors.New("conflict")

	// ErrAlreadyFinished marks operations against a deployment or device
	// deployment that already reached a terminal state (409).
	ErrAlreadyFinished = errors.New("already finished")

	// ErrUnprocessable marks well-formed requests that cannot be satisfied,
	// such as a deployment targeting an artifact name never uploaded (422).
	ErrUnprocessable = errors.New("unprocessable")

	// ErrArtifactInUse rejects deleting an artifact referenced by a
	// non-terminal deployment (409).
	ErrArtifactInUse = errors.New("artifact used in active deployment")

	// ErrInvalidArtifact marks uploaded payloads the introspection tool
	// rejected (400).
	ErrInvalidArtifact = errors.New("invalid artifact")
)
