package logbook

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ruteri/storage-distribution/interfaces"
)

// AlertLogger raises alerts as log records and counts them per level.
type AlertLogger struct {
	log    *slog.Logger
	alerts *prometheus.CounterVec
}

var _ interfaces.AlertService = (*AlertLogger)(nil)

// NewAlertLogger creates the alert service. registerer may be nil, in which
// case alerts are only logged.
func NewAlertLogger(log *slog.Logger, namespace string, registerer prometheus.Registerer) *AlertLogger {
	a := &AlertLogger{log: log.With(slog.String("component", "alerts"))}
	if registerer != nil {
		a.alerts = promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Operational alerts raised, by level.",
		}, []string{"level"})
	}
	return a
}

func (a *AlertLogger) CreateAlert(ctx context.Context, level interfaces.AlertLevel, message string) {
	slogLevel := slog.LevelWarn
	if level != interfaces.AlertWarning {
		slogLevel = slog.LevelError
	}
	a.log.Log(ctx, slogLevel, "Alert", slog.String("alert_level", string(level)), slog.String("message", message))
	if a.alerts != nil {
		a.alerts.WithLabelValues(string(level)).Inc()
	}
}
