// Package realtime guards live update channels against a flapping
// transport. A failure counter with lazy decay feeds a two-state
// circuit breaker, and a channel factory degrades every failure to a
// nil channel so callers can always fall back to manual refresh.
package realtime
