// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibration_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vibration_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// SamplesReceived количество принятых отсчетов
	SamplesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibration_samples_received_total",
			Help: "Total number of accelerometer samples received",
		},
	)

	// SamplesDropped отсчеты, отброшенные при переполнении буфера сессии
	SamplesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibration_samples_dropped_total",
			Help: "Samples dropped because a session buffer overflowed",
		},
	)

	// WindowsProcessed обработанные окна по степени
	WindowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibration_windows_processed_total",
			Help: "Windows processed, by resulting severity",
		},
		[]string{"severity"},
	)

	// TransientErrors окна, пропущенные из-за численной ошибки
	TransientErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibration_transient_errors_total",
			Help: "Windows skipped because of a transient computation error",
		},
	)

	// AlertsRaised выданные предупреждения
	AlertsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibration_alerts_total",
			Help: "Total number of smoothed damage alerts raised",
		},
	)

	// SessionsActive количество активных сессий
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vibration_sessions_active",
			Help: "Number of active measurement sessions",
		},
	)

	// SessionsFinalized завершенные сессии по итоговой степени
	SessionsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibration_sessions_finalized_total",
			Help: "Finalized sessions, by majority severity",
		},
		[]string{"severity"},
	)

	// EMAScore последняя сглаженная оценка повреждения по сессиям
	EMAScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vibration_ema_score",
			Help: "Latest smoothed damage score per session",
		},
		[]string{"session"},
	)

	// ModelLoaded 1, если артефакт модели загружен
	ModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vibration_model_loaded",
			Help: "Whether the model artifact is loaded (1) or not (0)",
		},
	)

	// EventsDropped события, отброшенные переполненной очередью диспетчера
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vibration_events_dropped_total",
			Help: "Events dropped because the dispatcher queue was full",
		},
	)

	// SinkErrors ошибки потребителей событий
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vibration_sink_errors_total",
			Help: "Errors returned by event sinks",
		},
		[]string{"sink"},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vibration_active_goroutines",
			Help: "Number of active goroutines",
		},
	)

	// AnalysisLatency время обработки одного окна
	AnalysisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vibration_analysis_latency_seconds",
			Help:    "Window analysis latency in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05},
		},
	)
)

// ObserveWindow обновляет метрики обработанного окна
func ObserveWindow(session, severity string, ema float64, alert bool) {
	WindowsProcessed.WithLabelValues(severity).Inc()
	EMAScore.WithLabelValues(session).Set(ema)
	if alert {
		AlertsRaised.Inc()
	}
}

// ForgetSession удаляет метки завершенной сессии
func ForgetSession(session, majority string) {
	EMAScore.DeleteLabelValues(session)
	SessionsFinalized.WithLabelValues(majority).Inc()
}
