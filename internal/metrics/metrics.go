// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/ferroline/factory-ops/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	lotRunsTotalCounter      *prometheus.CounterVec
	stepRunsTotalCounter     *prometheus.CounterVec
	nonConformancesCounter   *prometheus.CounterVec
	stockMovementsCounter    *prometheus.CounterVec
	workerScanDurationMetric prometheus.Histogram
	webhookDeliveryMetric    prometheus.Histogram
	webhookAttemptsCounter   prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		lotRunsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lot_runs_total",
				Help: "Total number of lot run status transitions by status.",
			},
			[]string{"status"},
		)

		stepRunsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "step_runs_total",
				Help: "Total number of step run status transitions by status.",
			},
			[]string{"status"},
		)

		nonConformancesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "non_conformances_total",
				Help: "Total number of raised non-conformances by severity.",
			},
			[]string{"severity"},
		)

		stockMovementsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_movements_total",
				Help: "Total number of booked stock movements by kind.",
			},
			[]string{"kind"},
		)

		workerScanDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "worker_scan_duration_seconds",
				Help:    "Duration of worker overdue/notification scans in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		webhookDeliveryMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webhook_delivery_duration_seconds",
				Help:    "Duration of outbound webhook deliveries in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		webhookAttemptsCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "webhook_attempts_total",
				Help: "Total number of webhook delivery attempts.",
			},
		)

		prometheus.MustRegister(
			lotRunsTotalCounter,
			stepRunsTotalCounter,
			nonConformancesCounter,
			stockMovementsCounter,
			workerScanDurationMetric,
			webhookDeliveryMetric,
			webhookAttemptsCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.LotStatus{
			domain.LotPending,
			domain.LotInProgress,
			domain.LotCompleted,
			domain.LotFailed,
			domain.LotCanceled,
		} {
			lotRunsTotalCounter.WithLabelValues(string(status))
		}

		for _, status := range []domain.StepStatus{
			domain.StepPending,
			domain.StepInProgress,
			domain.StepCompleted,
			domain.StepFailed,
			domain.StepSkipped,
		} {
			stepRunsTotalCounter.WithLabelValues(string(status))
		}

		for _, severity := range []domain.NCSeverity{
			domain.NCMinor,
			domain.NCMajor,
			domain.NCCritical,
		} {
			nonConformancesCounter.WithLabelValues(string(severity))
		}

		for _, kind := range []domain.MovementKind{
			domain.MovementReceipt,
			domain.MovementIssue,
			domain.MovementAdjustment,
		} {
			stockMovementsCounter.WithLabelValues(string(kind))
		}
	})
}

func IncLotStatus(status string) {
	Init()
	lotRunsTotalCounter.WithLabelValues(status).Inc()
}

func IncStepStatus(status string) {
	Init()
	stepRunsTotalCounter.WithLabelValues(status).Inc()
}

func IncNonConformance(severity string) {
	Init()
	nonConformancesCounter.WithLabelValues(severity).Inc()
}

func IncStockMovement(kind string) {
	Init()
	stockMovementsCounter.WithLabelValues(kind).Inc()
}

func ObserveWorkerScanDuration(d time.Duration) {
	Init()
	workerScanDurationMetric.Observe(d.Seconds())
}

func ObserveWebhookDelivery(d time.Duration) {
	Init()
	webhookDeliveryMetric.Observe(d.Seconds())
}

func IncWebhookAttempts() {
	Init()
	webhookAttemptsCounter.Inc()
}
