// 文件: pkg/metrics/metrics.go
// Prometheus 指标, promauto 注册到默认 Registry, /metrics 由 promhttp 暴露
// 使用开源库: github.com/prometheus/client_golang

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersPlaced 接受的订单数
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spotex",
		Name:      "orders_placed_total",
		Help:      "Number of orders accepted.",
	}, []string{"symbol", "side"})

	// OrdersCancelled 撤销的订单数
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spotex",
		Name:      "orders_cancelled_total",
		Help:      "Number of orders cancelled.",
	}, []string{"symbol"})

	// TradesExecuted 成交笔数
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spotex",
		Name:      "trades_executed_total",
		Help:      "Number of trades executed.",
	}, []string{"symbol"})

	// TradeVolume 成交额累计 (USD, 近似值)
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spotex",
		Name:      "trade_volume_usd_total",
		Help:      "Cumulative traded volume in USD.",
	}, []string{"symbol"})

	// CommissionRevenue 手续费收入累计 (USD, 近似值)
	CommissionRevenue = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "spotex",
		Name:      "commission_revenue_usd_total",
		Help:      "Cumulative commission revenue in USD.",
	})

	// HTTPDuration HTTP 请求耗时
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "spotex",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	// WSConnections 在线 WebSocket 连接数
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "spotex",
		Name:      "ws_connections",
		Help:      "Current number of WebSocket connections.",
	})
)
