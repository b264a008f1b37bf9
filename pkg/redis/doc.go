// Package redis provides Redis connectivity for the realtime change-event
// transport: client construction with startup retry and a healthcheck
// closure.
package redis
