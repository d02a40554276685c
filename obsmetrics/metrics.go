// Package obsmetrics exposes broker-wide operational metrics to Prometheus.
//
// It mirrors the recorder shape of chainadapter/metrics (per-operation
// counters and timers, a health snapshot) but registers real
// github.com/prometheus/client_golang collectors instead of hand-rolling
// text export.
package obsmetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder records broker engine, queue, and chain-adapter activity.
//
// Contract:
//   - every method MUST be safe for concurrent use (prometheus collectors
//     already are; this interface just adds nothing on top)
type Recorder interface {
	RecordRPCCall(chainID int64, method string, duration time.Duration, success bool)
	RecordTransactionBuild(chainID int64, duration time.Duration, success bool)
	RecordTransactionSign(chainID int64, duration time.Duration, success bool)
	RecordTransactionBroadcast(chainID int64, duration time.Duration, success bool)

	RecordTick(duration time.Duration)
	RecordRecoveryTick(repaired int, failed int)
	RecordDealTransition(fromStage, toStage string)
	SetActiveDeals(stage string, count int)
	SetQueueDepth(status string, count int)
	RecordCommission(chainID int64, known bool)
	SetTankBalance(chainID int64, asset string, balanceFloat float64)
}

// Metrics is the Recorder implementation backed by client_golang.
type Metrics struct {
	reg prometheus.Registerer

	rpcCallsTotal    *prometheus.CounterVec
	rpcDuration      *prometheus.HistogramVec
	txOpsTotal       *prometheus.CounterVec
	txOpsDuration    *prometheus.HistogramVec
	tickDuration     prometheus.Histogram
	recoveryRepaired prometheus.Counter
	recoveryFailed   prometheus.Counter
	dealTransitions  *prometheus.CounterVec
	activeDeals      *prometheus.GaugeVec
	queueDepth       *prometheus.GaugeVec
	commissionTotal  *prometheus.CounterVec
	tankBalance      *prometheus.GaugeVec
}

// New constructs a Metrics recorder and registers all collectors against reg.
// Pass prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		rpcCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total number of chain RPC calls.",
		}, []string{"chain_id", "method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "broker",
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "Chain RPC call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain_id", "method"}),
		txOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "chain",
			Name:      "tx_operations_total",
			Help:      "Total transaction build/sign/broadcast operations.",
		}, []string{"chain_id", "operation", "status"}),
		txOpsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "broker",
			Subsystem: "chain",
			Name:      "tx_operation_duration_seconds",
			Help:      "Transaction build/sign/broadcast duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain_id", "operation"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "broker",
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one engine tick across all active deals.",
			Buckets:   prometheus.DefBuckets,
		}),
		recoveryRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "recovery",
			Name:      "repaired_total",
			Help:      "Total queue items repaired by the recovery tick.",
		}),
		recoveryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "recovery",
			Name:      "failed_total",
			Help:      "Total queue items the recovery tick gave up on.",
		}),
		dealTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "engine",
			Name:      "deal_transitions_total",
			Help:      "Total deal stage transitions.",
		}, []string{"from", "to"}),
		activeDeals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "broker",
			Subsystem: "engine",
			Name:      "active_deals",
			Help:      "Number of deals currently in a given stage.",
		}, []string{"stage"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "broker",
			Subsystem: "engine",
			Name:      "queue_depth",
			Help:      "Number of queue items currently in a given status.",
		}, []string{"status"}),
		commissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "broker",
			Subsystem: "commission",
			Name:      "collected_total",
			Help:      "Total commission transfers planned, split by known/unknown asset pricing.",
		}, []string{"chain_id", "pricing"}),
		tankBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "broker",
			Subsystem: "tank",
			Name:      "balance",
			Help:      "Last observed hot wallet (tank) balance per chain and asset.",
		}, []string{"chain_id", "asset"}),
	}

	reg.MustRegister(
		m.rpcCallsTotal, m.rpcDuration, m.txOpsTotal, m.txOpsDuration,
		m.tickDuration, m.recoveryRepaired, m.recoveryFailed,
		m.dealTransitions, m.activeDeals, m.queueDepth,
		m.commissionTotal, m.tankBalance,
	)
	return m
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *Metrics) RecordRPCCall(chainID int64, method string, duration time.Duration, success bool) {
	chain := chainIDLabel(chainID)
	m.rpcCallsTotal.WithLabelValues(chain, method, statusLabel(success)).Inc()
	m.rpcDuration.WithLabelValues(chain, method).Observe(duration.Seconds())
}

func (m *Metrics) RecordTransactionBuild(chainID int64, duration time.Duration, success bool) {
	m.recordTxOp(chainID, "build", duration, success)
}

func (m *Metrics) RecordTransactionSign(chainID int64, duration time.Duration, success bool) {
	m.recordTxOp(chainID, "sign", duration, success)
}

func (m *Metrics) RecordTransactionBroadcast(chainID int64, duration time.Duration, success bool) {
	m.recordTxOp(chainID, "broadcast", duration, success)
}

func (m *Metrics) recordTxOp(chainID int64, op string, duration time.Duration, success bool) {
	chain := chainIDLabel(chainID)
	m.txOpsTotal.WithLabelValues(chain, op, statusLabel(success)).Inc()
	m.txOpsDuration.WithLabelValues(chain, op).Observe(duration.Seconds())
}

func (m *Metrics) RecordTick(duration time.Duration) {
	m.tickDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRecoveryTick(repaired, failed int) {
	m.recoveryRepaired.Add(float64(repaired))
	m.recoveryFailed.Add(float64(failed))
}

func (m *Metrics) RecordDealTransition(fromStage, toStage string) {
	m.dealTransitions.WithLabelValues(fromStage, toStage).Inc()
}

func (m *Metrics) SetActiveDeals(stage string, count int) {
	m.activeDeals.WithLabelValues(stage).Set(float64(count))
}

func (m *Metrics) SetQueueDepth(status string, count int) {
	m.queueDepth.WithLabelValues(status).Set(float64(count))
}

func (m *Metrics) RecordCommission(chainID int64, known bool) {
	pricing := "known_asset"
	if !known {
		pricing = "unknown_token_usd"
	}
	m.commissionTotal.WithLabelValues(chainIDLabel(chainID), pricing).Inc()
}

func (m *Metrics) SetTankBalance(chainID int64, asset string, balanceFloat float64) {
	m.tankBalance.WithLabelValues(chainIDLabel(chainID), asset).Set(balanceFloat)
}

func chainIDLabel(chainID int64) string {
	return strconv.FormatInt(chainID, 10)
}

var _ Recorder = (*Metrics)(nil)
