package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	// FilesProcessed counts files run through the orchestrator by kind and outcome.
	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Name:      "files_processed_total",
			Help:      "Total number of uploaded files processed",
		},
		[]string{"kind", "status"},
	)

	// ProcessingDuration tracks the time taken to process one file end to end.
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "media",
			Name:      "file_processing_duration_seconds",
			Help:      "Time taken to process one uploaded file",
			Buckets:   []float64{0.1, 1, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	// ActiveJobs tracks the number of files currently being processed.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "media",
			Name:      "active_jobs",
			Help:      "Number of files currently being processed",
		},
	)

	// StagedBytes counts bytes written to the staging directory.
	StagedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "media",
			Name:      "staged_bytes_total",
			Help:      "Total bytes written to local staging",
		},
	)

	// CleanupWarnings counts temp files or work directories that could not be removed.
	CleanupWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Name:      "cleanup_warnings_total",
			Help:      "Total number of failed temp cleanups",
		},
		[]string{"kind"},
	)

	// DownloadDuration tracks the time taken to download raw objects from S3.
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "media",
			Name:      "download_duration_seconds",
			Help:      "Time taken to download raw objects from S3",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// TreeUploadDuration tracks the time taken to upload a rendition tree.
	TreeUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "media",
			Name:      "tree_upload_duration_seconds",
			Help:      "Time taken to upload a rendition tree to S3",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// TreeUploadFiles counts files uploaded as part of rendition trees.
	TreeUploadFiles = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "media",
			Name:      "tree_upload_files_total",
			Help:      "Total number of rendition files uploaded",
		},
	)

	// TreeUploadBytes counts bytes uploaded as part of rendition trees.
	TreeUploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "media",
			Name:      "tree_upload_bytes_total",
			Help:      "Total bytes of rendition files uploaded",
		},
	)

	// TranscodeDuration tracks the time taken for one ffmpeg invocation.
	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "media",
			Name:      "transcode_duration_seconds",
			Help:      "Time taken for one FFmpeg invocation",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"format"},
	)
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "media",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AuthFailures counts authentication failures by type.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "api",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	// UploadRequests counts multipart upload requests by outcome.
	UploadRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "api",
			Name:      "upload_requests_total",
			Help:      "Total number of multipart upload requests",
		},
		[]string{"status"},
	)
)

// Worker metrics
var (
	// QueueMessages counts SQS messages by how the worker disposed of them.
	QueueMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "media",
			Subsystem: "worker",
			Name:      "queue_messages_total",
			Help:      "Total number of SQS messages handled by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordFile records the outcome of one processed file.
func RecordFile(isVideo, failed bool) {
	kind := "file"
	if isVideo {
		kind = "video"
	}
	status := "success"
	if failed {
		status = "failed"
	}
	FilesProcessed.WithLabelValues(kind, status).Inc()
}

// RecordCleanupWarning records a failed temp cleanup.
func RecordCleanupWarning(kind string) {
	CleanupWarnings.WithLabelValues(kind).Inc()
}
