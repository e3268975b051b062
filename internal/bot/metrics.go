package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах

// ============ Размещение ордеров ============

// OrdersPlaced - количество размещённых ордеров по результату
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algotrade",
		Subsystem: "trading",
		Name:      "orders_placed_total",
		Help:      "Total number of order placement attempts",
	},
	[]string{"symbol", "result"}, // result: success, partial, failed
)

// OrderLegsSubmitted - количество отправленных legs по результату
var OrderLegsSubmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algotrade",
		Subsystem: "trading",
		Name:      "order_legs_submitted_total",
		Help:      "Total number of submitted order legs",
	},
	[]string{"symbol", "result"},
)

// OrderPlacementLatency - время полного размещения заявки
var OrderPlacementLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "algotrade",
		Subsystem: "trading",
		Name:      "order_placement_latency_ms",
		Help:      "Time to validate, size and submit an order in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
)

// EvictionsTotal - количество выселенных сущностей
var EvictionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algotrade",
		Subsystem: "trading",
		Name:      "evictions_total",
		Help:      "Total number of exposures evicted to free capacity",
	},
	[]string{"kind"}, // position, pending_order
)

// ============ Дневной риск ============

// DailyRiskRemaining - остаток дневного бюджета риска по счетам
var DailyRiskRemaining = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "algotrade",
		Subsystem: "risk",
		Name:      "daily_risk_remaining",
		Help:      "Remaining daily risk budget per account",
	},
	[]string{"account"},
)

// DailyRiskRejections - отказы по дневному бюджету
var DailyRiskRejections = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "algotrade",
		Subsystem: "risk",
		Name:      "daily_risk_rejections_total",
		Help:      "Orders rejected because the daily risk budget was exhausted",
	},
)

// ============ Реконсиляция ============

// ReconciliationPasses - количество проходов реконсиляции
var ReconciliationPasses = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algotrade",
		Subsystem: "reconcile",
		Name:      "passes_total",
		Help:      "Total number of reconciliation passes",
	},
	[]string{"account"},
)

// ReconciliationDuration - длительность прохода реконсиляции
var ReconciliationDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "algotrade",
		Subsystem: "reconcile",
		Name:      "pass_duration_ms",
		Help:      "Duration of a reconciliation pass in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
)

// CorrectiveActions - корректирующие действия по типам и результату
var CorrectiveActions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "algotrade",
		Subsystem: "reconcile",
		Name:      "corrective_actions_total",
		Help:      "Total number of corrective actions",
	},
	[]string{"action", "result"}, // action: revert, reopen, close_external; result: success, failed, skipped, gave_up
)

// ============ Состояние ============

// ConnectedAccounts - количество подключённых счетов
var ConnectedAccounts = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "algotrade",
		Subsystem: "engine",
		Name:      "connected_accounts",
		Help:      "Current number of connected broker accounts",
	},
)

// MirroredEntities - размер зеркала терминала по счетам
var MirroredEntities = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "algotrade",
		Subsystem: "reconcile",
		Name:      "mirrored_entities",
		Help:      "Number of mirrored positions and pending orders per account",
	},
	[]string{"account", "kind"}, // kind: position, pending_order
)
