package obsmetrics

import (
	"time"

	"github.com/otcbroker/broker/chainadapter/metrics"
)

// ChainAdapterMetrics implements the chainadapter module's narrow
// metrics.ChainMetrics interface by forwarding into a Recorder. One instance
// is built per chain (see buildChainRuntime in cmd/brokerd), so the chain
// string argument each ChainMetrics method carries is redundant with the
// instance's own chainID and is ignored.
type ChainAdapterMetrics struct {
	rec     Recorder
	chainID int64
}

// NewChainAdapterMetrics returns a metrics.ChainMetrics backed by rec,
// reporting everything under chainID.
func NewChainAdapterMetrics(rec Recorder, chainID int64) *ChainAdapterMetrics {
	return &ChainAdapterMetrics{rec: rec, chainID: chainID}
}

func (c *ChainAdapterMetrics) RecordRPCCall(method string, duration time.Duration, success bool) {
	c.rec.RecordRPCCall(c.chainID, method, duration, success)
}

func (c *ChainAdapterMetrics) RecordTransactionBuild(_ string, duration time.Duration, success bool) {
	c.rec.RecordTransactionBuild(c.chainID, duration, success)
}

func (c *ChainAdapterMetrics) RecordTransactionSign(_ string, duration time.Duration, success bool) {
	c.rec.RecordTransactionSign(c.chainID, duration, success)
}

func (c *ChainAdapterMetrics) RecordTransactionBroadcast(_ string, duration time.Duration, success bool) {
	c.rec.RecordTransactionBroadcast(c.chainID, duration, success)
}

var _ metrics.ChainMetrics = (*ChainAdapterMetrics)(nil)
