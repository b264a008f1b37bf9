// Package pg provides PostgreSQL connectivity for the engine's durable
// stores: pool construction with startup retry, goose-based schema
// migrations from an embedded filesystem, error classification helpers, and
// a healthcheck closure.
package pg
