// Package metrics defines the narrow recording surface a ChainAdapter needs
// to report RPC and transaction-lifecycle activity. It intentionally has no
// implementation of its own — the broker wires a real
// github.com/prometheus/client_golang-backed Recorder in behind it (see
// obsmetrics.NewChainAdapterMetrics) so adapter metrics land in the same
// registry as the rest of the broker's metrics, rather than a second,
// parallel system.
package metrics

import (
	"time"
)

// ChainMetrics is the interface a ChainAdapter records its RPC and
// transaction-lifecycle activity through.
//
// Contract:
// - every method MUST be safe for concurrent use
type ChainMetrics interface {
	// RecordRPCCall records a single RPC call with its duration and success status.
	RecordRPCCall(method string, duration time.Duration, success bool)

	// RecordTransactionBuild records a transaction Build() call.
	RecordTransactionBuild(chainID string, duration time.Duration, success bool)

	// RecordTransactionSign records a transaction Sign() call.
	RecordTransactionSign(chainID string, duration time.Duration, success bool)

	// RecordTransactionBroadcast records a transaction Broadcast() call.
	RecordTransactionBroadcast(chainID string, duration time.Duration, success bool)
}

// NoOpMetrics discards everything. Useful in tests, or any adapter
// constructed with metrics disabled.
type NoOpMetrics struct{}

func (n *NoOpMetrics) RecordRPCCall(method string, duration time.Duration, success bool) {}
func (n *NoOpMetrics) RecordTransactionBuild(chainID string, duration time.Duration, success bool) {
}
func (n *NoOpMetrics) RecordTransactionSign(chainID string, duration time.Duration, success bool) {}
func (n *NoOpMetrics) RecordTransactionBroadcast(chainID string, duration time.Duration, success bool) {
}

var _ ChainMetrics = (*NoOpMetrics)(nil)
