// Package errs collects the typed error variants the retrieval core
// surfaces at stage boundaries, following the sentinel-error convention the
// rest of the pack uses (pkg/common/errors.go, pkg/embedding/cache/errors.go)
// instead of bespoke error structs.
package errs

import "errors"

var (
	// ErrNotFound is returned when the metadata store has no entry for a
	// requested chunk id. The core drops the id and continues.
	ErrNotFound = errors.New("chunk metadata not found")

	// ErrEmptyChunk is returned when a metadata entry exists but its text
	// is blank. The core drops the chunk and logs a warning; if every
	// candidate is empty, the request fails.
	ErrEmptyChunk = errors.New("chunk text is empty")

	// ErrWorkerStartup is returned when the generator subprocess does not
	// emit the READY handshake. Fatal to the request; the worker is
	// marked dead.
	ErrWorkerStartup = errors.New("generator worker failed to start")

	// ErrWorkerProtocol is returned on truncated framing or a bad length
	// prefix on the generator IPC pipe. SubprocessWorker.Complete tears the
	// worker down, respawns it at once and retries the request within the
	// same call; the respawn is not deferred to the next call.
	ErrWorkerProtocol = errors.New("generator worker protocol violation")

	// ErrWorkerError is returned when the worker's response payload began
	// with "ERROR:". The remainder is attached to the caller's response.
	ErrWorkerError = errors.New("generator worker reported an error")

	// ErrWorkerTimeout is returned when the IPC round trip exceeds its
	// configured ceiling. The worker is torn down and respawned.
	ErrWorkerTimeout = errors.New("generator worker call timed out")

	// ErrPersistence is returned when a durable upsert or delete fails.
	// The caller must roll back the corresponding in-memory change.
	ErrPersistence = errors.New("persistence operation failed")

	// ErrValidationExhausted names the case where the retry budget is spent
	// with no passing chunk. Validator.ValidateWithRetry reports that case
	// as an invalid Result with a nil error rather than returning this
	// value; the orchestrator then generates from an empty chunk set, which
	// yields a successful answer with no citations.
	ErrValidationExhausted = errors.New("validation exhausted retry budget")

	// ErrAllChunksEmpty is returned when every candidate chunk has empty
	// or missing text after metadata lookup.
	ErrAllChunksEmpty = errors.New("all candidate chunks had empty text")

	// ErrInvalidCapacity is returned when a cache tier is configured with
	// a non-positive capacity.
	ErrInvalidCapacity = errors.New("cache tier capacity must be positive")
)
