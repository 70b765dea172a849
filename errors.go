package hybridkv

import "errors"

// Sentinel errors for the taxonomy in spec section 7. Callers use
// errors.Is against these; concrete errors are wrapped with additional
// context via fmt.Errorf("%w: ...", ErrX).
var (
	// ErrNotOpen is returned when an operation is invoked after Close or
	// before Open completed.
	ErrNotOpen = errors.New("hybridkv: not open")

	// ErrIO wraps a disk read/write failure. The wrapping error carries
	// the offending path and underlying OS cause.
	ErrIO = errors.New("hybridkv: io error")

	// ErrCorrupt marks malformed framing in a WAL or SSTable that was
	// recovered from by skipping the offending region.
	ErrCorrupt = errors.New("hybridkv: corrupt region")

	// ErrInvalidConfig is returned by Open when the supplied Config is
	// nonsensical (negative sizes or limits). Zero sizes are not
	// rejected: Open replaces them with defaults first.
	ErrInvalidConfig = errors.New("hybridkv: invalid config")

	// ErrCodecFailure is returned when a Codec rejects bytes it was
	// asked to encode or decode.
	ErrCodecFailure = errors.New("hybridkv: codec failure")

	// ErrBusy is returned by the scheduler when it rejects new work
	// because shutdown is in progress.
	ErrBusy = errors.New("hybridkv: busy")

	// ErrNotFound is the internal "key absent or tombstoned" signal.
	// It is distinct from the taxonomy above: read paths return it as a
	// plain miss, never wrapped, so callers can compare it directly.
	ErrNotFound = errors.New("hybridkv: key not found")
)
