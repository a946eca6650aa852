// Package core defines the shared leaf types of the switchboard framework:
// conversation messages and histories, per-user sessions and the SessionStore
// contract, token usage accounting, turn results and the typed errors
// surfaced by the orchestration layer. It has no behavior beyond small
// helpers and is imported by every other package.
package core
