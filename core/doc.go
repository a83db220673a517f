// Package core defines the shared data model of the conversation engine:
// role-tagged content made of a closed set of parts, the normalized event
// stream exposed to callers, tool call request/response records and the error
// taxonomy (fatal auth, retryable rate limit, normalized structured errors,
// parse failures).
//
// Higher layers (model backends, the scheduler, the turn engine and the
// orchestrator) depend on this package only; it has no dependencies on them.
package core
