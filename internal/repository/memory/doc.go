// Package memory provides in-process implementations of the repository
// contracts. They back the server when no DATABASE_URL is configured and
// are used by tests that need real repository semantics.
package memory
