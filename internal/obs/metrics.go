// Package obs holds the Prometheus metrics the bot updates during operation,
// served at /metrics in the text exposition format.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_ticks_total",
			Help: "Ticks received per symbol",
		},
		[]string{"symbol"},
	)

	mtxTickDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_tick_drops_total",
			Help: "Ticks dropped because the delivery queue was full",
		},
	)

	mtxRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_requests_total",
			Help: "Protocol requests sent, by message kind",
		},
		[]string{"kind"},
	)

	mtxTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_request_timeouts_total",
			Help: "Protocol requests that timed out, by message kind",
		},
		[]string{"kind"},
	)

	mtxReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_reconnects_total",
			Help: "WebSocket reconnects",
		},
	)

	mtxBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_balance",
			Help: "Last known account balance",
		},
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Settled trades by result (win|loss)",
		},
		[]string{"result"},
	)

	mtxStake = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_last_stake",
			Help: "Stake of the most recent order",
		},
	)

	mtxRecoveryLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_recovery_level",
			Help: "Current recovery ladder level",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxTicks,
		mtxTickDrops,
		mtxRequests,
		mtxTimeouts,
		mtxReconnects,
		mtxBalance,
		mtxTrades,
		mtxStake,
		mtxRecoveryLevel,
	)
}

// Handler serves the metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }

func IncTick(symbol string)      { mtxTicks.WithLabelValues(symbol).Inc() }
func IncTickDrop()               { mtxTickDrops.Inc() }
func IncRequest(kind string)     { mtxRequests.WithLabelValues(kind).Inc() }
func IncTimeout(kind string)     { mtxTimeouts.WithLabelValues(kind).Inc() }
func IncReconnect()              { mtxReconnects.Inc() }
func SetBalance(v float64)       { mtxBalance.Set(v) }
func IncTrade(result string)     { mtxTrades.WithLabelValues(result).Inc() }
func SetStake(v float64)         { mtxStake.Set(v) }
func SetRecoveryLevel(level int) { mtxRecoveryLevel.Set(float64(level)) }
