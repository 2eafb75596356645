// Package metrics 提供托管钱包服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aether_custody"

// 扫块指标
var (
	// BlocksScannedTotal 已扫描区块总数
	BlocksScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_scanned_total",
			Help:      "已扫描区块总数",
		},
		[]string{"chain"},
	)

	// ScanLagGauge 扫块落后链头的区块数
	ScanLagGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_lag_blocks",
			Help:      "扫块游标落后链头的区块数",
		},
		[]string{"chain"},
	)

	// DepositsDetectedTotal 识别到的充值交易总数
	DepositsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposits_detected_total",
			Help:      "扫块识别到的充值交易总数",
		},
		[]string{"chain", "token"},
	)
)

// 充值确认指标
var (
	// DepositOrdersTotal 充值订单终态总数
	DepositOrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_orders_total",
			Help:      "充值订单终态总数",
		},
		[]string{"chain", "status"}, // settled, failed
	)

	// DepositConfirmDuration 从落库到确认入账的耗时
	DepositConfirmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deposit_confirm_duration_seconds",
			Help:      "充值从落库到确认入账的耗时(秒)",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"chain"},
	)
)

// 归集指标
var (
	// CollectionsTotal 归集交易总数
	CollectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collections_total",
			Help:      "归集交易总数",
		},
		[]string{"chain", "kind", "status"}, // kind: native/token/funding
	)

	// CollectionFee 归集手续费 (原生币最小单位)
	CollectionFee = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_fee_units",
			Help:      "归集手续费(原生币最小单位)",
			Buckets:   prometheus.ExponentialBuckets(1e4, 10, 8),
		},
		[]string{"chain"},
	)
)

// 提现指标
var (
	// WithdrawOrdersTotal 提现订单状态迁移总数
	WithdrawOrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdraw_orders_total",
			Help:      "提现订单状态迁移总数",
		},
		[]string{"chain", "status"},
	)

	// WithdrawBroadcastDuration 提现从审批到广播的耗时
	WithdrawBroadcastDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "withdraw_broadcast_duration_seconds",
			Help:      "提现从审批通过到广播上链的耗时(秒)",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"chain"},
	)
)

// 账本指标
var (
	// LedgerMutationsTotal 账本变更总数
	LedgerMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_mutations_total",
			Help:      "账本变更总数",
		},
		[]string{"type", "result"}, // result: ok/insufficient/not_found/error
	)
)

// 链交互指标
var (
	// ChainRequestsTotal 链上请求总数
	ChainRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_requests_total",
			Help:      "链上 RPC/API 请求总数",
		},
		[]string{"chain", "op", "status"},
	)

	// ChainLatestBlockGauge 各链最新区块高度
	ChainLatestBlockGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_latest_block",
			Help:      "各链最新区块高度",
		},
		[]string{"chain"},
	)
)

// Kafka 指标
var (
	// EventsPublishedTotal 发布事件总数
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Kafka 事件发布总数",
		},
		[]string{"topic", "status"},
	)
)
