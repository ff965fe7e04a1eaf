package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpdesk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otpdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Login flow
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpdesk_login_attempts_total",
			Help: "Login attempts by final stage",
		},
		[]string{"stage"},
	)

	ActiveLoginAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otpdesk_login_attempts_active",
			Help: "Login attempts holding an open messaging connection",
		},
	)

	// OTP monitor
	ActiveMonitors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otpdesk_monitors_active",
			Help: "Running OTP monitor sessions",
		},
	)

	MonitorOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpdesk_monitor_outcomes_total",
			Help: "Finished OTP monitor sessions by outcome",
		},
		[]string{"outcome"},
	)

	MonitorPollErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otpdesk_monitor_poll_errors_total",
			Help: "Transient messaging errors observed while polling",
		},
	)

	// Device sessions
	DeviceTerminationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpdesk_device_terminations_total",
			Help: "Device session terminations by result",
		},
		[]string{"result"},
	)

	// Rate limiting
	RateLimitHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otpdesk_rate_limit_hits_total",
			Help: "Rejected attempts by action",
		},
		[]string{"action"},
	)
)
