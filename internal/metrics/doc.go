// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Live multiplexed connections
//   - Inbound frames received, routed and malformed
//   - Dropped frames by reason (no consumer, saturated)
//   - Outbound sends and send errors
package metrics
