package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("routesync/workflow")

var (
	backupsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routesync_backups_created_total",
		Help: "Backups written, by reason.",
	}, []string{"reason"})

	backupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "routesync_backup_duration_seconds",
		Help:    "Time taken to copy the live store into a backup.",
		Buckets: prometheus.DefBuckets,
	})

	previewsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routesync_previews_total",
		Help: "Uploads previewed, by update type.",
	}, []string{"update_type"})

	changesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routesync_changes_applied_total",
		Help: "Live-store mutations committed, by entity and action.",
	}, []string{"entity", "action"})

	applyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routesync_apply_failures_total",
		Help: "Apply or validation transactions rolled back.",
	})

	changesStaged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routesync_changes_staged_total",
		Help: "Rows written to pending_route_changes, by change type.",
	}, []string{"change_type"})

	changesValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routesync_changes_validated_total",
		Help: "Staged rows decided by a reviewer, by decision.",
	}, []string{"decision"})

	restoresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routesync_restores_total",
		Help: "Restores of the live store from a backup.",
	})

	outboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routesync_outbox_published_total",
		Help: "Change events handed to the publisher, by result.",
	}, []string{"result"})
)
