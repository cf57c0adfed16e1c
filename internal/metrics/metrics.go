// Package metrics holds the Prometheus collectors of the caja service,
// exposed on GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MovimientosRegistrados = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caja_movimientos_total",
			Help: "Movimientos de caja agregados al ledger",
		},
		[]string{"origen", "metodo_pago"},
	)

	VentasDuplicadas = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caja_ventas_duplicadas_total",
		Help: "Eventos de venta re-entregados que no generaron un segundo movimiento",
	})

	SincronizacionesEscaladas = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caja_sincronizaciones_escaladas_total",
		Help: "Ventas cuyo movimiento no pudo registrarse tras agotar los reintentos",
	})

	VentasRecuperadas = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caja_ventas_recuperadas_total",
		Help: "Ventas huérfanas recuperadas por backfill",
	})

	Cierres = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caja_cierres_total",
			Help: "Cierres de caja por clasificación del desvío",
		},
		[]string{"clasificacion"},
	)

	LedgerCorrupto = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caja_ledger_corrupto_total",
		Help: "Arqueos que detectaron un ledger inconsistente",
	})

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)
