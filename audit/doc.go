// Package audit provides the authentication audit trail: event types,
// pluggable sinks, a buffered asynchronous dispatcher, and a cache-backed
// recorder that persists events under auth:event:<userID>:<millis> keys
// with a fixed retention TTL.
//
// Emission is best-effort and must never block or fail an authentication
// decision; a full buffer drops events and counts the drops.
package audit
