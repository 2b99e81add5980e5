package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileflow_tasks_created_total",
		Help: "Total number of tasks created from uploads",
	})

	TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileflow_tasks_completed_total",
		Help: "Total number of tasks that finished processing",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileflow_tasks_failed_total",
		Help: "Total number of tasks that failed processing",
	})

	FilesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileflow_files_processed_total",
		Help: "Total number of files marked processed",
	})

	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileflow_upload_bytes_total",
		Help: "Total bytes written by ingestion",
	})

	UploadsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fileflow_uploads_rejected_total",
		Help: "Uploads rejected before a task was created",
	}, []string{"reason"})

	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fileflow_downloads_total",
		Help: "Result downloads served",
	}, []string{"kind"})

	ArchiveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileflow_archive_failures_total",
		Help: "Archive streams that failed",
	})

	TasksSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fileflow_tasks_swept_total",
		Help: "Tasks removed by the retention policy",
	})

	WorkersInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fileflow_worker_runs_in_flight",
		Help: "Worker runs currently scheduled or executing",
	})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fileflow_task_processing_seconds",
		Help:    "Time from worker start to terminal status",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
