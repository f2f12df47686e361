package domain

import "errors"

// Error kinds from spec §7. Propagation rules live with their callers
// (orchestrator, cache, registry fetcher); this package only defines the
// sentinels so call sites can classify failures with errors.Is.
var (
	// ErrTransient wraps RPC/HTTP/bus I/O failures. Only the bus retries
	// (its publishes, with capped exponential backoff) before returning
	// it; elsewhere the orchestrator logs it and ends the current pass or
	// module (a failed attest publish is recorded as Skip("publish_error")),
	// and the next block's pass starts afresh.
	ErrTransient = errors.New("transient error")

	// ErrStale marks a snapshot too old or whose hash disagrees with the
	// provider's canonical block at that height.
	ErrStale = errors.New("stale snapshot")

	// ErrInconsistent marks duplicate pubkeys, malformed logs, or a
	// sealed-segment disagreement. Fatal when it concerns sealed data.
	ErrInconsistent = errors.New("inconsistent data")

	// ErrConfigInvalid marks a configuration value that cannot be used.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrNotGuardian is not itself an error condition but a state: the
	// wallet is not currently a member of the guardian set.
	ErrNotGuardian = errors.New("wallet is not a guardian")

	// ErrFatal marks anything that invalidates the cache or chain
	// identity. The process must exit with a distinctive, non-zero code.
	ErrFatal = errors.New("fatal error")

	// ErrRangeTooLarge is returned by a Provider when a log query window
	// is rejected as too large; the cache halves the window and retries,
	// down to a floor of 1 block, per spec §4.2.
	ErrRangeTooLarge = errors.New("log query range too large")
)

// FatalExitCode is returned by main on any ErrFatal condition (wrong
// chain, sealed-segment disagreement, corrupt private key, unrecoverable
// cache I/O), per spec §6 "Exit codes".
const FatalExitCode = 2
