package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики оркестрации flow.
var (
	// StepResults — терминальные результаты шагов по типу и статусу.
	StepResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaflow_step_results_total",
		Help: "Step results by step type and status",
	}, []string{"step_type", "status"})

	// StepCacheHits — повторные запуски шагов, отданные из кэша parent job.
	StepCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaflow_step_cache_hits_total",
		Help: "Step executions short-circuited by a cached completed result",
	}, []string{"step_type"})

	// ParentDataConflicts — конфликты версии при обновлении данных parent job.
	ParentDataConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediaflow_parent_data_conflicts_total",
		Help: "Compare-and-swap conflicts while updating parent job data",
	})

	// FlowOutcomes — итог parent job по flow: success / failed.
	FlowOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaflow_flow_outcomes_total",
		Help: "Final flow outcomes by flow name and result",
	}, []string{"flow", "outcome"})

	// StatusReportFailures — неудачные записи в task record.
	StatusReportFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediaflow_status_report_failures_total",
		Help: "Task status updates that failed and were dropped",
	})
)

// Метрики worker и sweeper.
var (
	// JobsProcessed — обработанные worker'ом jobs по типу (parent / step) и итогу.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaflow_jobs_processed_total",
		Help: "Jobs processed by workers by kind and result",
	}, []string{"kind", "result"})

	// JobDuration — длительность одной попытки обработки job.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mediaflow_job_duration_seconds",
		Help:    "Duration of a single job attempt",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// SweeperRepairs — jobs, восстановленные sweeper'ом.
	SweeperRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaflow_sweeper_repairs_total",
		Help: "Jobs repaired by the sweeper by action",
	}, []string{"action"})
)

// APIRequests — HTTP запросы к API по маршруту и коду ответа.
var APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mediaflow_api_http_requests_total",
	Help: "Total HTTP requests handled by mediaflow-api",
}, []string{"method", "code"})
