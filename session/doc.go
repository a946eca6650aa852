// Package session provides the built-in in-memory implementation of
// core.SessionStore. Production deployments typically replace it with a
// durable store (Redis, SQL); the flow only depends on the Get/Put contract.
package session
